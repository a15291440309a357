package archive

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"gopkg.in/ini.v1"
)

// LoadDepotDescriptions reads curated depot and DLC labels from the
// [depots] section of a depots.ini file, keyed by id. A missing or
// unparseable file is tolerated; labels just stay generic.
func LoadDepotDescriptions(fs afero.Fs, path string, logger *logrus.Logger) map[string]string {
	descriptions := map[string]string{}
	if path == "" {
		return descriptions
	}

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		logger.WithError(err).WithField("path", path).Warn("depots.ini not readable; depot labels may be generic")
		return descriptions
	}

	file, err := ini.Load(data)
	if err != nil {
		logger.WithError(err).WithField("path", path).Warn("Failed to parse depots.ini")
		return descriptions
	}

	for _, key := range file.Section("depots").Keys() {
		descriptions[key.Name()] = key.Value()
	}
	if len(descriptions) == 0 {
		logger.WithField("path", path).Warn("depots.ini has no [depots] entries")
	} else {
		logger.WithField("count", len(descriptions)).Debug("Loaded curated depot descriptions")
	}
	return descriptions
}
