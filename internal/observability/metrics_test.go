package observability

import (
	"testing"
	"time"

	"github.com/rs/zerolog/log"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	RegisterMetrics()
	RegisterMetrics()

	RecordCommand("move_stage_absolute", "ok", 12*time.Millisecond)
	RecordCommand("move_stage_absolute", "error", 3*time.Millisecond)
	RecordAcquisition("ELECTRON")
	RecordHTTPRequest("sim.demo", "GET", "/healthz", 200, 2*time.Millisecond)

	log.Debug().Msg("registration idempotent and recording paths executed")
}
