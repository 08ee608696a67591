package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/Shyp/go-types"
	"github.com/d3vv3/kcal-ai-bot/rest"
)

// getId validates that the provided ID is valid, and the prefix matches
// one of the expected prefixes. Returns the correct ID, and a boolean
// describing whether the helper has written a response.
func getId(w http.ResponseWriter, r *http.Request, idStr string, prefixes ...string) (types.PrefixUUID, bool) {
	id, err := types.NewPrefixUUID(idStr)
	if err != nil {
		badRequest(w, r, &rest.Error{
			ID:    "invalid_uuid",
			Title: strings.Replace(err.Error(), "types: ", "", 1),
		})
		return id, true
	}
	for _, prefix := range prefixes {
		if id.Prefix == prefix {
			return id, false
		}
	}
	badRequest(w, r, &rest.Error{
		ID:    "invalid_prefix",
		Title: fmt.Sprintf("Please use %s for the uuid prefix, not %s", strings.Join(prefixes, " or "), id.Prefix),
	})
	return id, true
}
