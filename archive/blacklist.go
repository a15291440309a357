package archive

// depotBlacklist lists depot IDs that distribution archives routinely
// include but that are never game content: Steamworks redistributables,
// tool SDKs, and the VR runtime bundle. They are stripped before the
// depot set is offered for selection.
var depotBlacklist = map[string]struct{}{
	"228981": {}, "228982": {}, "228983": {}, "228984": {}, "228985": {},
	"228986": {}, "228987": {}, "228988": {}, "228989": {}, "228990": {},
	"229000": {}, "229001": {}, "229002": {}, "229003": {}, "229004": {},
	"229005": {}, "229006": {}, "229007": {},
	"229010": {}, "229011": {}, "229012": {},
	"229020": {},
	"229030": {}, "229031": {}, "229032": {}, "229033": {},
	"239142": {},
	"798541": {}, "798542": {}, "798543": {},
	"1034630": {},
}

func blacklisted(depotID string) bool {
	_, ok := depotBlacklist[depotID]
	return ok
}
