package domain

import (
	"strings"

	"github.com/goccy/go-json"
)

// legacySeparator ends the name in pre-JSON metadata.
const legacySeparator = "%"

type clientData struct {
	ClientData string `json:"clientData"`
}

// EncodeClientData builds the connection metadata announced to other
// participants.
func EncodeClientData(displayName string) string {
	b, err := json.Marshal(clientData{ClientData: displayName})
	if err != nil {
		return displayName
	}
	return string(b)
}

// DisplayNameFromMetadata extracts the display name from raw connection data.
// Accepted forms: {"clientData":"Bob"}, {"clientData":"Bob"}%/%<server data>,
// and the legacy Bob%<suffix>.
func DisplayNameFromMetadata(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(raw, "{") {
		// Only the first JSON value is client data; anything after it is
		// the server part.
		var cd clientData
		if err := json.NewDecoder(strings.NewReader(raw)).Decode(&cd); err == nil {
			return cd.ClientData
		}
	}
	name, _, _ := strings.Cut(raw, legacySeparator)
	return name
}
