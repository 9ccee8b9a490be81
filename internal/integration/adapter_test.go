package integration

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mattercertis/internal/httpfetch"
	"mattercertis/internal/retrypolicy"
	"mattercertis/internal/stages"
	"mattercertis/models"
)

type expiredAwareFetcher struct{}

func (expiredAwareFetcher) FetchListPage(ctx context.Context, _ int) (*httpfetch.FetchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &httpfetch.FetchResult{Status: 200}, nil
}
func (expiredAwareFetcher) FetchDetail(ctx context.Context, _ string) (*httpfetch.FetchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &httpfetch.FetchResult{Status: 200}, nil
}
func (expiredAwareFetcher) Discover(context.Context, []byte, *url.URL) ([]*url.URL, error) {
	return nil, nil
}
func (expiredAwareFetcher) Configure(httpfetch.FetchPolicy) error { return nil }
func (expiredAwareFetcher) Stats() httpfetch.FetcherStats         { return httpfetch.FetcherStats{} }

func baseConfig() stages.Config {
	return stages.Config{
		Concurrency:             2,
		PartialSuccessThreshold: 0.5,
		Jitterer:                retrypolicy.NewJitterer(1),
		RetryTable:              retrypolicy.Table,
	}
}

func TestExecuteStage_UnknownStageIsFatal(t *testing.T) {
	a := New(stages.Deps{}, baseConfig())
	cmd := ExecuteStageCommand{
		StageID: models.StageID("not_a_real_stage"),
		Items:   nil,
	}
	result := a.ExecuteStage(context.Background(), cmd)
	assert.Equal(t, stages.KindFatalError, result.Kind)
}

func TestExecuteStage_TimeoutEscalatesToRecoverable(t *testing.T) {
	a := New(stages.Deps{Fetcher: expiredAwareFetcher{}}, baseConfig())
	items := []stages.Item{{Key: "1", In: "https://x/1"}}
	cmd := ExecuteStageCommand{StageID: models.StageDetailFetch, Items: items, TimeoutSecs: 0}
	// Already-expired context simulates a stage that blew its deadline.
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)
	result := a.ExecuteStage(ctx, cmd)
	require.Equal(t, stages.KindRecoverableError, result.Kind)
	assert.Equal(t, "network_timeout", result.Context)
}
