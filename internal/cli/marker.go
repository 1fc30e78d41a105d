package cli

import (
	"encoding/json"
	"os"
	"os/user"
)

// Version is set through ldflags at build time. The store checks it against
// its minimum supported client version.
var Version = "0.15.0"

const clientName = "droidctl"

// clientMarkerDetails builds the details payload of a run submission: the
// caller's extra details, if any, plus the reserved creator and client
// markers the store requires.
func clientMarkerDetails(extra string) json.RawMessage {
	details := map[string]any{}
	if extra != "" {
		// Invalid extra JSON is dropped; the markers still go out.
		_ = json.Unmarshal([]byte(extra), &details)
	}
	details["droidhub.reserved.creator"] = currentUser()
	details["droidhub.reserved.client"] = clientName + " " + Version

	raw, _ := json.Marshal(details)
	return raw
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "unknown"
}
