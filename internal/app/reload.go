package app

import (
	"context"
	"strings"

	"wikidaily/internal/config"
	logx "wikidaily/pkg/logx"
)

// reloadLoop applies published configs. Logging and fan-out settings take
// effect live; other sections only warn that a restart is needed.
func (a *App) reloadLoop(c context.Context) error {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)

	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return nil
		case newCfg, ok := <-sub:
			if !ok {
				return nil
			}
			// Coalesce bursts: keep only the latest config.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.apply(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) apply(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}

	for _, s := range sections {
		switch s {
		case config.SectionLogging:
			a.logs.Apply(logConfig(newCfg.Logging))
		case config.SectionFanout:
			a.applyFanout(newCfg.Fanout)
		}
	}

	if pending := config.RequiresRestart(sections); len(pending) > 0 {
		a.log.Warn("config sections changed; restart required for them to take effect",
			logx.String("sections", strings.Join(pending, ",")))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config applied", fields...)
}

func (a *App) applyFanout(fc config.FanoutConfig) {
	a.job.Apply(fanoutConfig(fc))
	a.sched.Apply(schedulerConfig(fc))

	if !fc.Enabled {
		if a.sched.Remove(dailySchedule) {
			a.log.Info("daily fan-out disabled via config")
		}
		return
	}
	if err := a.registerDaily(fc); err != nil {
		// Validation ran before publish, so this is unexpected; keep the old entry.
		a.log.Warn("daily fan-out schedule not updated", logx.Err(err))
		return
	}
	a.log.Info("daily fan-out scheduled", logx.String("schedule", fc.Schedule), logx.String("tz", fc.Timezone))
}
