package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/stationctl/core/metrics"
	"github.com/kilianp07/stationctl/infra/logger"
)

// InfluxSink writes allocation events to an InfluxDB instance using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback pings the InfluxDB instance and returns a
// NopSink if the health check fails.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.MetricsSink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// Close releases the underlying client.
func (s *InfluxSink) Close() { s.client.Close() }

func (s *InfluxSink) write(p *write.Point) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordAllocation writes one allocation_event point.
func (s *InfluxSink) RecordAllocation(ev coremetrics.AllocationEvent) error {
	p := write.NewPointWithMeasurement("allocation_event").
		AddTag("operation", strings.ToLower(ev.Operation)).
		AddTag("success", strconv.FormatBool(ev.Success))
	if ev.TrainID != "" {
		p = p.AddTag("train_id", ev.TrainID)
	}
	p = p.AddField("resources", strings.Join(ev.ResourceIDs, ",")).
		AddField("latency_ms", ev.Duration.Milliseconds())
	if ev.Error != "" {
		p = p.AddField("error", ev.Error)
	}
	return s.write(p.SetTime(ev.Time))
}

// RecordOccupancy writes a station_occupancy snapshot.
func (s *InfluxSink) RecordOccupancy(ev coremetrics.OccupancyEvent) error {
	p := write.NewPointWithMeasurement("station_occupancy").
		AddField("free", ev.Free).
		AddField("occupied", ev.Occupied).
		AddField("maintenance", ev.Maintenance).
		AddField("waiting", ev.Waiting).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordSuggestion writes a waiting_suggestion point.
func (s *InfluxSink) RecordSuggestion(ev coremetrics.SuggestionEvent) error {
	p := write.NewPointWithMeasurement("waiting_suggestion").
		AddTag("outcome", ev.Outcome).
		AddTag("train_id", ev.TrainID).
		AddField("suggestion_id", ev.SuggestionID).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordDwell writes a train_dwell point.
func (s *InfluxSink) RecordDwell(ev coremetrics.DwellEvent) error {
	p := write.NewPointWithMeasurement("train_dwell").
		AddTag("train_id", ev.TrainID).
		AddField("resources", strings.Join(ev.ResourceIDs, ",")).
		AddField("dwell_s", ev.Dwell.Seconds()).
		SetTime(ev.Time)
	return s.write(p)
}
