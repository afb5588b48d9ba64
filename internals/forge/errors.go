package forge

import (
	"errors"
	"net/http"

	"github.com/google/go-github/v60/github"
	gitlab "gitlab.com/gitlab-org/api/client-go"
)

// IsAuth reports whether a forge call failed on credentials. One bad token
// fails every subsequent call the same way, so callers abort the whole run
// instead of burning through the batch.
func IsAuth(err error) bool {
	var ghe *github.ErrorResponse
	if errors.As(err, &ghe) && ghe.Response != nil {
		return authStatus(ghe.Response.StatusCode)
	}
	var gle *gitlab.ErrorResponse
	if errors.As(err, &gle) && gle.Response != nil {
		return authStatus(gle.Response.StatusCode)
	}
	return false
}

func authStatus(code int) bool {
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}
