package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "wikidaily/pkg/logx"
)

// Config controls the scheduler.
type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "Europe/Amsterdam"; empty means Local
}

// Job is the unit a schedule triggers.
type Job func(ctx context.Context) error

type scheduleDef struct {
	id            string
	name          string
	spec          string // cron spec or @every
	timeout       time.Duration
	job           Job
	entryID       cron.EntryID
	startupSpread time.Duration // initial random delay for @every schedules
	state         *runState
}

// runState survives re-registration of a definition across restarts.
type runState struct {
	running atomic.Bool
	runs    atomic.Uint64
	skipped atomic.Uint64
	lastErr atomic.Pointer[string]
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef

	// base is the context jobs derive from; cancelled by Stop.
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// error throttling: key is schedule name
	errMu       sync.Mutex
	lastErrWarn map[string]time.Time
}

type ScheduleInfo struct {
	ID      string        `json:"id"`
	Name    string        `json:"name"`
	Spec    string        `json:"spec"`
	Timeout time.Duration `json:"timeout"`
	Next    time.Time     `json:"next,omitzero"`
	Prev    time.Time     `json:"prev,omitzero"`
	Running bool          `json:"running"`
	Runs    uint64        `json:"runs"`
	Skipped uint64        `json:"skipped"`
	LastErr string        `json:"last_error,omitempty"`
}

type Snapshot struct {
	Enabled   bool           `json:"enabled"`
	Timezone  string         `json:"timezone"`
	Schedules []ScheduleInfo `json:"schedules"`
}
