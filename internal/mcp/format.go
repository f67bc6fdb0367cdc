package mcp

import (
	"fmt"
	"time"

	"github.com/Aman-CERP/repoindex/internal/async"
	"github.com/Aman-CERP/repoindex/internal/search"
	"github.com/Aman-CERP/repoindex/internal/ui"
)

// FormatContext renders a query result as the text handed to the client.
// Results below the confidence threshold render as the no-information line.
func FormatContext(res *search.Result) string {
	if res == nil || !res.Confident || res.Items == 0 {
		return search.NoInformation
	}
	return fmt.Sprintf("Retrieved context (%s):\n\n%s", res.Summary, res.Context)
}

// ToQueryOutput converts a query result to the tool output schema.
func ToQueryOutput(res *search.Result) QueryIndexOutput {
	out := QueryIndexOutput{
		Confident:  res.Confident,
		Confidence: res.Percent(),
		Threshold:  res.Threshold,
		Summary:    res.Summary,
		Context:    res.Context,
		Items:      res.Items,
		Truncated:  res.Truncated,
		Hits:       make([]HitOutput, 0, len(res.Hits)),
	}
	for _, h := range res.Hits {
		out.Hits = append(out.Hits, HitOutput{
			Rank:  h.Rank,
			Score: float64(h.Score),
			Path:  h.Path,
			Start: h.Start,
			End:   h.End,
			Lang:  h.Lang,
			Stale: h.Stale,
		})
	}
	return out
}

// ToStatusOutput converts collected status and an optional refresh
// snapshot to the tool output schema.
func ToStatusOutput(info ui.StatusInfo, threshold float64, refresh *async.ProgressSnapshot) *IndexStatusOutput {
	out := &IndexStatusOutput{
		Root:  info.Root,
		State: info.State,
		Error: info.Error,
		Index: IndexStats{
			Model:          info.Model,
			Dimensions:     info.Dim,
			Metric:         info.Metric,
			FileCount:      info.Files,
			ChunkCount:     info.Chunks,
			IndexSizeBytes: info.TotalSize,
			Revision:       info.Revision,
			LastRefresh:    formatTimestamp(&info.LastRefresh),
		},
		Retrieval: RetrievalStats{
			Threshold:   threshold,
			Queries:     info.Queries,
			Hits:        info.Hits,
			Misses:      info.Misses,
			HitRatio:    info.HitRatio,
			LastQuery:   formatTimestamp(info.LastQueryTS),
			LastAttempt: formatTimestamp(info.LastAttemptTS),
		},
	}
	if refresh != nil {
		out.Refresh = &RefreshStatus{
			Status:         refresh.Status,
			Stage:          refresh.Stage,
			Current:        refresh.Current,
			Total:          refresh.Total,
			ProgressPct:    refresh.ProgressPct,
			Passes:         refresh.Passes,
			LastMode:       refresh.LastMode,
			LastPassAt:     formatTimestamp(refresh.LastPassAt),
			ElapsedSeconds: refresh.ElapsedSeconds,
			ErrorMessage:   refresh.ErrorMessage,
		}
	}
	return out
}

func formatTimestamp(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
