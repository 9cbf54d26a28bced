// Elife - Daelim e-Life Smart Home Cloud Bridge
// Copyright 2026 Hyun K. (hyun-k)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hyun-k/elife

package catalog

import (
	"fmt"
	"regexp"

	"github.com/goccy/go-json"
)

// The home page is server-rendered markup, not an API. The catalog sits in a
// single-quoted JS string literal, the session keys in a JS object literal,
// and the elevator uid in a control-template fragment. Anchored regular
// expressions against those exact literals are the extraction mechanism the
// page shape supports; there is nothing structural to parse.
var (
	deviceListPattern = regexp.MustCompile(`const _deviceListByType = '([^']+)'`)

	sessionKeyNames = []string{"roomKey", "userKey", "accessToken"}

	sessionKeyPatterns = func() map[string]*regexp.Regexp {
		patterns := make(map[string]*regexp.Regexp, len(sessionKeyNames))
		for _, name := range sessionKeyNames {
			patterns[name] = regexp.MustCompile(fmt.Sprintf(`'%s': '([^']+)'`, name))
		}
		return patterns
	}()

	elevatorCallPattern = regexp.MustCompile(
		`data-category="elevator"[^>]*data-type="call"[^>]*data-command="control_request"[^>]*data-uid="([^"]+)"`)
)

// ExtractionError reports a payload shape missing from the home page.
type ExtractionError struct {
	Missing string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("catalog: %s not found in page", e.Missing)
}

// ExtractCatalog pulls the embedded device inventory out of the home page
// text.
func ExtractCatalog(html string) (Catalog, error) {
	m := deviceListPattern.FindStringSubmatch(html)
	if m == nil {
		return nil, &ExtractionError{Missing: "device list"}
	}
	var c Catalog
	if err := json.Unmarshal([]byte(m[1]), &c); err != nil {
		return nil, fmt.Errorf("catalog: parse device list: %w", err)
	}
	return c, nil
}

// ExtractSessionKeys pulls the push-channel key triple out of the home page
// text. All three keys must be present.
func ExtractSessionKeys(html string) (SessionKeys, error) {
	found := make(map[string]string, len(sessionKeyNames))
	for _, name := range sessionKeyNames {
		m := sessionKeyPatterns[name].FindStringSubmatch(html)
		if m == nil {
			return SessionKeys{}, &ExtractionError{Missing: name}
		}
		found[name] = m[1]
	}
	return SessionKeys{
		RoomKey:     found["roomKey"],
		UserKey:     found["userKey"],
		AccessToken: found["accessToken"],
	}, nil
}

// ExtractAuxiliaryDeviceID pulls the elevator-call uid out of the page's
// control-template fragment. Not every building exposes one, so absence is
// reported, not an error.
func ExtractAuxiliaryDeviceID(html string) (string, bool) {
	m := elevatorCallPattern.FindStringSubmatch(html)
	if m == nil {
		return "", false
	}
	return m[1], true
}
