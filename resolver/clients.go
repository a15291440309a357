package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	accela "github.com/FaultyPacketOverflowVector/Accela"
)

// ProductInfoClient fetches the authoritative app record: depot table,
// manifests, build id. This is the primary metadata source.
type ProductInfoClient interface {
	ProductInfo(ctx context.Context, appID string) (*accela.AppMetadata, error)
}

// StorefrontClient fetches display metadata from the store API: name,
// header image. Its depot knowledge is nil but its artwork is fresher
// than the product-info mirror's.
type StorefrontClient interface {
	AppDetails(ctx context.Context, appID string) (*accela.AppMetadata, error)
}

const (
	productInfoURL = "https://api.steamcmd.net/v1/info/%s"
	storefrontURL  = "https://store.steampowered.com/api/appdetails?appids=%s&filters=basic"
)

// HTTPProductInfoClient talks to the public product-info mirror.
type HTTPProductInfoClient struct {
	Client *http.Client
}

type productInfoResponse struct {
	Status string                     `json:"status"`
	Data   map[string]json.RawMessage `json:"data"`
}

type productInfoApp struct {
	Common struct {
		Name        string `json:"name"`
		HeaderImage struct {
			English string `json:"english"`
		} `json:"header_image"`
	} `json:"common"`
	Config struct {
		InstallDir string `json:"installdir"`
	} `json:"config"`
	Depots map[string]json.RawMessage `json:"depots"`
}

type productInfoDepot struct {
	Name   string `json:"name"`
	Config struct {
		OSList    string `json:"oslist"`
		Language  string `json:"language"`
		SteamDeck string `json:"steamdeck"`
	} `json:"config"`
	MaxSize   string `json:"maxsize"`
	Manifests map[string]struct {
		GID  string `json:"gid"`
		Size string `json:"size"`
	} `json:"manifests"`
	SharedInstall string `json:"sharedinstall"`
}

type productInfoBranches map[string]struct {
	BuildID string `json:"buildid"`
}

func (c *HTTPProductInfoClient) ProductInfo(ctx context.Context, appID string) (*accela.AppMetadata, error) {
	body, err := fetchJSON(ctx, c.Client, fmt.Sprintf(productInfoURL, appID))
	if err != nil {
		return nil, err
	}

	var resp productInfoResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode product info for app %s: %w", appID, err)
	}
	raw, ok := resp.Data[appID]
	if !ok {
		return nil, fmt.Errorf("product info response missing app %s", appID)
	}
	var app productInfoApp
	if err := json.Unmarshal(raw, &app); err != nil {
		return nil, fmt.Errorf("failed to decode app record for %s: %w", appID, err)
	}

	meta := &accela.AppMetadata{
		AppID:      appID,
		Name:       app.Common.Name,
		InstallDir: app.Config.InstallDir,
		HeaderURL:  app.Common.HeaderImage.English,
		Depots:     map[string]accela.DepotInfo{},
	}

	for depotID, rawDepot := range app.Depots {
		if depotID == "branches" {
			var branches productInfoBranches
			if err := json.Unmarshal(rawDepot, &branches); err == nil {
				meta.BuildID = branches["public"].BuildID
			}
			continue
		}
		if _, err := strconv.ParseUint(depotID, 10, 64); err != nil {
			// Non-numeric depot keys carry config, not content.
			continue
		}
		var depot productInfoDepot
		if err := json.Unmarshal(rawDepot, &depot); err != nil {
			continue
		}
		if depot.SharedInstall == "1" {
			// Shared installs (redistributables) belong to another app.
			continue
		}
		info := accela.DepotInfo{
			Name:      depot.Name,
			OSList:    accela.ParseOSList(depot.Config.OSList),
			Language:  depot.Config.Language,
			SteamDeck: depot.Config.SteamDeck == "1",
		}
		if public, ok := depot.Manifests["public"]; ok {
			info.ManifestID = public.GID
			info.SizeBytes, _ = strconv.ParseInt(public.Size, 10, 64)
		}
		if info.SizeBytes == 0 && depot.MaxSize != "" {
			info.SizeBytes, _ = strconv.ParseInt(depot.MaxSize, 10, 64)
		}
		meta.Depots[depotID] = info
	}
	return meta, nil
}

// HTTPStorefrontClient talks to the store appdetails API.
type HTTPStorefrontClient struct {
	Client *http.Client
}

type storefrontEntry struct {
	Success bool `json:"success"`
	Data    struct {
		Name        string `json:"name"`
		HeaderImage string `json:"header_image"`
	} `json:"data"`
}

func (c *HTTPStorefrontClient) AppDetails(ctx context.Context, appID string) (*accela.AppMetadata, error) {
	body, err := fetchJSON(ctx, c.Client, fmt.Sprintf(storefrontURL, appID))
	if err != nil {
		return nil, err
	}

	var resp map[string]storefrontEntry
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode storefront response for app %s: %w", appID, err)
	}
	entry, ok := resp[appID]
	if !ok || !entry.Success {
		return nil, fmt.Errorf("storefront has no record for app %s", appID)
	}
	return &accela.AppMetadata{
		AppID:     appID,
		Name:      entry.Data.Name,
		HeaderURL: entry.Data.HeaderImage,
		Depots:    map[string]accela.DepotInfo{},
	}, nil
}

func fetchJSON(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 32<<20))
}
