// Package attendance parses attendance service flags and launches the service.
package attendance

import (
	"context"
	"flag"
	"time"

	entrypoint "github.com/louisbranch/rollcall/internal/platform/cmd"
	server "github.com/louisbranch/rollcall/internal/services/attendance/app"
)

// Config holds attendance command configuration.
type Config struct {
	HTTPAddr            string        `env:"ROLLCALL_ATTENDANCE_HTTP_ADDR" envDefault:":8095"`
	HealthPort          int           `env:"ROLLCALL_ATTENDANCE_HEALTH_PORT" envDefault:"8096"`
	DBPath              string        `env:"ROLLCALL_ATTENDANCE_DB_PATH" envDefault:"data/attendance.db"`
	PollInterval        time.Duration `env:"ROLLCALL_ATTENDANCE_POLL_INTERVAL" envDefault:"1s"`
	Section             string        `env:"ROLLCALL_ATTENDANCE_SECTION" envDefault:"Gregorio Y. Zara"`
	Mode                string        `env:"ROLLCALL_ATTENDANCE_MODE" envDefault:"time_in"`
	Date                string        `env:"ROLLCALL_ATTENDANCE_DATE"`
	Timezone            string        `env:"ROLLCALL_ATTENDANCE_TIMEZONE" envDefault:"UTC"`
	SubscribeOnWeekends bool          `env:"ROLLCALL_ATTENDANCE_SUBSCRIBE_ON_WEEKENDS" envDefault:"false"`
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP listen address")
	fs.IntVar(&cfg.HealthPort, "health-port", cfg.HealthPort, "gRPC health server port")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "SQLite database path")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "SQLite subscription poll interval")
	fs.StringVar(&cfg.Section, "section", cfg.Section, "initial section")
	fs.StringVar(&cfg.Mode, "mode", cfg.Mode, "initial mode (time_in or time_out)")
	fs.StringVar(&cfg.Date, "date", cfg.Date, "initial date as YYYY-MM-DD (default: today)")
	fs.StringVar(&cfg.Timezone, "timezone", cfg.Timezone, "time zone used to compute today")
	fs.BoolVar(&cfg.SubscribeOnWeekends, "subscribe-on-weekends", cfg.SubscribeOnWeekends, "keep record subscriptions open on weekends")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the attendance service.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceAttendance, func(ctx context.Context) error {
		return server.Run(ctx, cfg.serverConfig())
	})
}

func (c Config) serverConfig() server.Config {
	return server.Config{
		HTTPAddr:            c.HTTPAddr,
		HealthPort:          c.HealthPort,
		DBPath:              c.DBPath,
		PollInterval:        c.PollInterval,
		Section:             c.Section,
		Mode:                c.Mode,
		Date:                c.Date,
		Timezone:            c.Timezone,
		SubscribeOnWeekends: c.SubscribeOnWeekends,
	}
}
