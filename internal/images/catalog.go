package images

import (
	"github.com/google/uuid"

	"github.com/nao1215/murkmaw/internal/model"
)

// BuildCatalog assigns a random ID to every image occurrence in graph.
//
// The same image URL found on several pages, or several times on one
// page, gets one entry per occurrence.
func BuildCatalog(graph *model.LinkGraph) model.Catalog {
	catalog := make(model.Catalog)
	if graph == nil {
		return catalog
	}

	for _, link := range graph.All() {
		for _, img := range link.Images {
			catalog[uuid.NewString()] = img
		}
	}

	return catalog
}
