package callback

import (
	"fmt"
	"net/url"
	"strings"
)

// Parse extracts OAuth callback parameters from a pasted callback URL or a
// bare query string. It returns nil when the input is empty. Custom handler
// schemes (vscode://...), plain URLs, and "code=...&state=..." fragments are
// all accepted.
func Parse(input string) (*Result, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil, nil
	}

	candidate := trimmed
	if !strings.Contains(candidate, "://") {
		switch {
		case strings.HasPrefix(candidate, "?"):
			candidate = "http://localhost" + candidate
		case strings.Contains(candidate, "="):
			candidate = "http://localhost/?" + candidate
		default:
			return nil, fmt.Errorf("invalid callback URL")
		}
	}

	parsedURL, err := url.Parse(candidate)
	if err != nil {
		return nil, err
	}

	query := parsedURL.Query()
	result := &Result{
		Code:  strings.TrimSpace(query.Get("code")),
		State: strings.TrimSpace(query.Get("state")),
		Error: strings.TrimSpace(query.Get("error")),
	}

	// Some providers return parameters in the fragment instead of the query.
	if parsedURL.Fragment != "" {
		if fragQuery, errFrag := url.ParseQuery(parsedURL.Fragment); errFrag == nil {
			if result.Code == "" {
				result.Code = strings.TrimSpace(fragQuery.Get("code"))
			}
			if result.State == "" {
				result.State = strings.TrimSpace(fragQuery.Get("state"))
			}
			if result.Error == "" {
				result.Error = strings.TrimSpace(fragQuery.Get("error"))
			}
		}
	}

	if result.Code != "" && result.State == "" && strings.Contains(result.Code, "#") {
		parts := strings.SplitN(result.Code, "#", 2)
		result.Code = parts[0]
		result.State = parts[1]
	}

	if result.Code == "" && result.Error == "" {
		return nil, fmt.Errorf("callback URL missing code")
	}
	return result, nil
}
