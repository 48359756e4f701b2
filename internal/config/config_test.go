package config_test

import (
	"errors"
	"testing"

	"github.com/okian/trustscore/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with defaults", t, func() {
		cfg := config.New()

		convey.Convey("Then it has sensible defaults and validates", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.StoreBackend, convey.ShouldEqual, config.BackendMemory)
			convey.So(cfg.MaxCommitAttempts, convey.ShouldEqual, 5)
			convey.So(cfg.AccountLocks, convey.ShouldBeTrue)
			convey.So(cfg.TokenTTLMinutes, convey.ShouldEqual, 1440)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})

	convey.Convey("Given invalid settings", t, func() {
		cases := map[string]func(c *config.Config){
			"empty addr":         func(c *config.Config) { c.Addr = "" },
			"bad format":         func(c *config.Config) { c.LogFormat = "xml" },
			"zero attempts":      func(c *config.Config) { c.MaxCommitAttempts = 0 },
			"unknown backend":    func(c *config.Config) { c.StoreBackend = "cassandra" },
			"postgres w/o dsn":   func(c *config.Config) { c.StoreBackend = config.BackendPostgres },
			"redis w/o addr":     func(c *config.Config) { c.StoreBackend = config.BackendRedis; c.RedisAddr = "" },
			"sqlite w/o path":    func(c *config.Config) { c.StoreBackend = config.BackendSQLite; c.SQLitePath = " " },
			"too many threads":   func(c *config.Config) { c.Argon2Threads = 300 },
			"negative retention": func(c *config.Config) { c.EventRetentionHours = -1 },
			"bad schedule": func(c *config.Config) {
				c.EventRetentionHours = 24
				c.RetentionSchedule = "every so often"
			},
		}
		for name, mutate := range cases {
			convey.Convey("When "+name, func() {
				cfg := config.New()
				mutate(cfg)

				convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		}
	})
}
