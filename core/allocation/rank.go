package allocation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/kilianp07/stationctl/core/audit"
	"github.com/kilianp07/stationctl/core/scoring"
	"github.com/kilianp07/stationctl/core/trains"
)

// RankRequest asks for resource suggestions for a train arriving on a line.
type RankRequest struct {
	TrainID      string `json:"train_id"`
	IncomingLine string `json:"incoming_line"`
	// FreightNeedsPlatform overrides the master flag for freight trains.
	FreightNeedsPlatform *bool `json:"freight_needs_platform,omitempty"`
}

// Rank looks the train up and ranks the currently free resources. The
// ranking runs on a snapshot outside the state lock.
func (c *Controller) Rank(ctx context.Context, req RankRequest) ([]scoring.Ranking, error) {
	start := time.Now()
	ctx, span := c.startSpan(ctx, OpRank, attribute.String("train_id", req.TrainID), attribute.String("incoming_line", req.IncomingLine))
	out, err := c.rank(ctx, req)
	var ids []string
	for i := 0; i < len(out) && i < 3; i++ {
		ids = append(ids, out[i].ResourceID)
	}
	c.finish(span, OpRank, req.TrainID, ids, start, err)
	if err != nil {
		return nil, err
	}
	c.appendAudit(audit.Record{
		Timestamp:   c.now(),
		Action:      audit.ActionRank,
		TrainID:     req.TrainID,
		ResourceIDs: ids,
		Line:        req.IncomingLine,
		Message:     fmt.Sprintf("%d options ranked for train %s, top: %s", len(out), req.TrainID, strings.Join(ids, ", ")),
	})
	return out, nil
}

func (c *Controller) rank(ctx context.Context, req RankRequest) ([]scoring.Ranking, error) {
	trainID := strings.TrimSpace(req.TrainID)
	line := strings.TrimSpace(req.IncomingLine)
	if trainID == "" {
		return nil, invalid(OpRank, "train id is required")
	}
	if line == "" {
		return nil, invalid(OpRank, "incoming line is required")
	}
	t, err := c.trains.GetTrain(ctx, trainID)
	switch {
	case errors.Is(err, trains.ErrUnknownTrain):
		return nil, notFound(OpRank, "train %s not found in the train master", trainID)
	case err != nil:
		return nil, unavailable(OpRank, "train master lookup", err)
	}
	if t.IsFreight() && req.FreightNeedsPlatform != nil {
		t.NeedsPlatform = *req.FreightNeedsPlatform
	}
	c.mu.Lock()
	free := c.state.FreeResourceIDs()
	c.mu.Unlock()
	return c.engine.Rank(t, free, line), nil
}
