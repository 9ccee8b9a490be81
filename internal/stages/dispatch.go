package stages

import (
	"context"
	"fmt"

	"mattercertis/internal/extractor"
	"mattercertis/internal/httpfetch"
	"mattercertis/internal/repository"
	"mattercertis/models"
)

// Deps collects the external collaborators the five stage bodies call out
// to. Nil fields are only acceptable for stages that never dispatch to
// them (e.g. ListExtract never touches Fetcher).
type Deps struct {
	Fetcher    httpfetch.Fetcher
	Extractor  *extractor.Extractor
	Repository repository.Repository
}

// Dispatch runs stageID over items under cfg, calling out to deps. This is
// the closed dispatch table: a single switch over the five known StageIDs,
// not a virtual method per stage type.
func Dispatch(ctx context.Context, stageID models.StageID, items []Item, cfg Config, deps Deps) StageResult {
	switch stageID {
	case models.StageListFetch:
		return ListFetch(ctx, items, cfg, deps.Fetcher)
	case models.StageListExtract:
		return ListExtract(ctx, items, cfg, deps.Extractor)
	case models.StageDetailFetch:
		return DetailFetch(ctx, items, cfg, deps.Fetcher)
	case models.StageDetailParse:
		return DetailParse(ctx, items, cfg, deps.Extractor)
	case models.StageUpsert:
		return Upsert(ctx, items, cfg, deps.Repository)
	default:
		return StageResult{Kind: KindFatalError, StageID: stageID, Err: fmt.Errorf("stages: unknown stage id %q", stageID)}
	}
}
