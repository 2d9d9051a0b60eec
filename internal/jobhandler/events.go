package jobhandler

import (
	"encoding/json"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/prominence-eu/prominence/internal/common/prominenceerrors"
	"github.com/prominence-eu/prominence/internal/model"
)

// Event is a lifecycle event reported by a worker: one of *Started, *Succeeded, *Failed, *Killed
// or *Deleted.
type Event interface {
	Header() *EventHeader
}

type EventHeader struct {
	JobId string
	// Time of the event on the worker, in seconds since the unix epoch
	Epoch  float64
	Worker string
	// Nil if the worker sent no details
	Details *ExecutionDetails
}

func (h *EventHeader) Header() *EventHeader {
	return h
}

type (
	Started   struct{ EventHeader }
	Succeeded struct{ EventHeader }
	Failed    struct{ EventHeader }
	Killed    struct{ EventHeader }
	Deleted   struct{ EventHeader }
)

// ExecutionDetails are the details a worker may attach to an event.
type ExecutionDetails struct {
	Site string
	// Only set when the vendor, model and clock were all reported
	Cpu *model.CpuDetails
	// Only tasks that reported an exit code
	Tasks []model.TaskExecution
}

type wireEvent struct {
	Id      string          `json:"id"`
	Event   string          `json:"event"`
	Epoch   float64         `json:"epoch"`
	Worker  string          `json:"worker"`
	Details json.RawMessage `json:"details"`
}

// DecodeEvent parses a message received on subject. If the payload has no id, the id is taken
// from the subject. A payload that isn't an event, including one with an unknown event type, is an
// ErrMalformedMessage. Details that can't be read are dropped without failing the event.
func DecodeEvent(subject string, data []byte) (Event, error) {
	malformed := func(message string, err error) error {
		return &prominenceerrors.ErrMalformedMessage{Subject: subject, Message: message, Err: err}
	}

	var wire wireEvent
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, malformed("invalid json", err)
	}
	if wire.Id == "" {
		wire.Id = jobIdFromSubject(subject)
	}
	if wire.Id == "" {
		return nil, malformed("missing job id", nil)
	}

	header := EventHeader{JobId: wire.Id, Epoch: wire.Epoch, Worker: wire.Worker}
	if len(wire.Details) > 0 && string(wire.Details) != "null" {
		header.Details = decodeDetails(subject, wire.Details)
	}

	switch wire.Event {
	case "start":
		return &Started{header}, nil
	case "success":
		return &Succeeded{header}, nil
	case "failed":
		return &Failed{header}, nil
	case "killed":
		return &Killed{header}, nil
	case "deleted":
		return &Deleted{header}, nil
	default:
		return nil, malformed("unknown event type "+wire.Event, nil)
	}
}

// decodeDetails reads whatever it can from the details of an event. Fields and task records that
// can't be read are logged and left out.
func decodeDetails(subject string, data []byte) *ExecutionDetails {
	logger := log.WithField("subject", subject)
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		logger.WithError(err).Warn("Ignoring event details that aren't a json object")
		return nil
	}

	details := &ExecutionDetails{}
	if site, ok := fields["site"]; ok {
		details.Site = rawString(site)
	}
	vendor, hasVendor := fields["cpu_vendor"]
	cpuModel, hasModel := fields["cpu_model"]
	clock, hasClock := fields["cpu_clock"]
	if hasVendor && hasModel && hasClock {
		details.Cpu = &model.CpuDetails{
			Vendor: rawString(vendor),
			Model:  rawString(cpuModel),
			Clock:  rawString(clock),
		}
	}

	tasks, ok := fields["tasks"]
	if !ok {
		return details
	}
	var records []map[string]json.RawMessage
	if err := json.Unmarshal(tasks, &records); err != nil {
		logger.WithError(err).Warn("Ignoring task details that aren't a list of json objects")
		return details
	}
	for i, record := range records {
		if _, ok := record["exitCode"]; !ok {
			continue
		}
		execution, err := decodeTaskExecution(record)
		if err != nil {
			logger.WithError(err).Warnf("Ignoring unreadable details of task %d", i)
			continue
		}
		details.Tasks = append(details.Tasks, execution)
	}
	return details
}

func decodeTaskExecution(record map[string]json.RawMessage) (model.TaskExecution, error) {
	var execution model.TaskExecution
	raw, err := json.Marshal(record)
	if err != nil {
		return execution, err
	}
	err = json.Unmarshal(raw, &execution)
	return execution, err
}

// jobIdFromSubject returns the id in jobs.<id>.<suffix>, or the empty string.
func jobIdFromSubject(subject string) string {
	parts := strings.Split(subject, ".")
	if len(parts) != 3 || parts[0] != "jobs" {
		return ""
	}
	return parts[1]
}

// rawString returns a json string without its quotes, and any other json value as written.
// Workers report the cpu clock as either a number or a string.
func rawString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
