package metrics

import (
	"bufio"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/AlexAkulov/releasewatch/config"

	"github.com/rs/zerolog"
	. "github.com/smartystreets/goconvey/convey"
)

func TestStartMetricsRepo(t *testing.T) {
	Convey("StartMetricsRepo", t, func() {
		Convey("without settings metrics are discarded", func() {
			repo, err := StartMetricsRepo(&config.Metrics{}, zerolog.Nop())
			So(err, ShouldBeNil)
			_, ok := repo.(discardRepo)
			So(ok, ShouldBeTrue)
			repo.CreateCounter("checks").Add(1)
			So(repo.Stop(), ShouldBeNil)
		})

		Convey("prometheus exposes created metrics", func() {
			repo, err := StartMetricsRepo(&config.Metrics{PrometheusListen: "127.0.0.1:0", Prefix: "releasewatch."}, zerolog.Nop())
			So(err, ShouldBeNil)
			defer repo.Stop()

			repo.CreateCounter("checks.new").Add(2)
			repo.CreateHistogram("cycle.time").Observe(0.5)

			resp, err := http.Get("http://" + repo.(*prometheusRepo).addr + "/metrics")
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			So(err, ShouldBeNil)
			So(string(body), ShouldContainSubstring, "releasewatch_checks_new_total 2")
			So(string(body), ShouldContainSubstring, "releasewatch_cycle_time_seconds_count 1")
		})

		Convey("busy prometheus address is an error", func() {
			first, err := StartMetricsRepo(&config.Metrics{PrometheusListen: "127.0.0.1:0"}, zerolog.Nop())
			So(err, ShouldBeNil)
			defer first.Stop()
			_, err = StartMetricsRepo(&config.Metrics{PrometheusListen: first.(*prometheusRepo).addr}, zerolog.Nop())
			So(err, ShouldNotBeNil)
		})
	})
}

func TestNames(t *testing.T) {
	Convey("names", t, func() {
		So(preparePrefix("releasewatch"), ShouldEqual, "releasewatch.")
		So(preparePrefix("releasewatch."), ShouldEqual, "releasewatch.")
		So(metricName("checks.rate-limited"), ShouldEqual, "checks_rate_limited")
		So(graphiteName("checks.golang/go"), ShouldEqual, "checks.golang_go")
	})
}

func TestGraphite(t *testing.T) {
	Convey("graphite flushes on stop", t, func() {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		So(err, ShouldBeNil)
		defer ln.Close()
		lines := make(chan string, 16)
		go func() {
			for {
				conn, err := ln.Accept()
				if err != nil {
					return
				}
				go func(c net.Conn) {
					defer c.Close()
					scanner := bufio.NewScanner(c)
					for scanner.Scan() {
						lines <- scanner.Text()
					}
				}(conn)
			}
		}()

		repo, err := StartMetricsRepo(&config.Metrics{GraphiteAddress: ln.Addr().String(), Prefix: "releasewatch", SendInterval: time.Hour}, zerolog.Nop())
		So(err, ShouldBeNil)
		repo.CreateCounter("checks.new").Add(3)
		So(repo.Stop(), ShouldBeNil)

		select {
		case line := <-lines:
			So(line, ShouldStartWith, "releasewatch.checks.new 3.000000 ")
		case <-time.After(5 * time.Second):
			So("no metrics received", ShouldBeEmpty)
		}
	})
}
