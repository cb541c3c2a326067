package db

import (
	"time"

	"github.com/google/uuid"
	"github.com/vikstrous/dataloadgen"
)

type dataLoaderKey string

const (
	DataLoaderKeyProjects dataLoaderKey = "project_data_loader"
)

// loader, ok := ctx.Value(db.DataLoaderKeyProjects).(*db.ProjectDataLoader)
type ProjectDataLoader struct {
	GetProject *dataloadgen.Loader[uuid.UUID, *Project]
}

func NewProjectDataLoader(dbWrapper JournalDBWrapper) *ProjectDataLoader {
	return &ProjectDataLoader{
		GetProject: dataloadgen.NewMappedLoader(dbWrapper.DataLoaderGetProjects, dataloadgen.WithWait(2*time.Millisecond)),
	}
}
