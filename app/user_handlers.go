package studyroom

import (
	"net/http"

	"github.com/putto11262002/studyroom/core"
	"github.com/putto11262002/studyroom/pkg/proto"
	"github.com/putto11262002/studyroom/pkg/router"
)

const maxNameLookup = 100

type UserHandler struct {
	names *core.NameCache
}

func NewUserHandler(names *core.NameCache) *UserHandler {
	return &UserHandler{names: names}
}

// GetNamesHandler resolves display names for the ids given as repeated id
// query parameters. Unknown ids are left out of the response.
func (h *UserHandler) GetNamesHandler(w http.ResponseWriter, r *http.Request) error {
	ids := r.URL.Query()["id"]
	if len(ids) == 0 {
		return proto.Validationf("at least one id is required")
	}
	if len(ids) > maxNameLookup {
		return proto.Validationf("at most %d ids can be resolved at once", maxNameLookup)
	}
	names := h.names.Resolve(r.Context(), ids...)
	if names == nil {
		names = map[string]string{}
	}
	return router.WriteJSON(w, http.StatusOK, proto.NamesResponse{Names: names})
}
