package desktop

import (
	"errors"
	"testing"

	"github.com/AlexAkulov/releasewatch"

	"github.com/rs/zerolog"
	. "github.com/smartystreets/goconvey/convey"
)

func TestSender(t *testing.T) {
	Convey("desktop sender", t, func() {
		var titles, bodies []string
		s := &Sender{
			Log: zerolog.Nop(),
			notify: func(title, message string, icon any) error {
				titles = append(titles, title)
				bodies = append(bodies, message)
				return nil
			},
		}
		So(s.Start(), ShouldBeNil)

		Convey("label is the title and the version the body", func() {
			err := s.Send(releasewatch.Event{Label: "Prometheus", Key: "prometheus/prometheus", Version: "v3.0.0", Watch: releasewatch.WatchReleases})
			So(err, ShouldBeNil)
			So(titles, ShouldResemble, []string{"Prometheus"})
			So(bodies, ShouldResemble, []string{"New release: v3.0.0"})
		})

		Convey("notification failure is returned", func() {
			s.notify = func(title, message string, icon any) error { return errors.New("no dbus") }
			err := s.Send(releasewatch.Event{Label: "Go", Version: "v1", Watch: releasewatch.WatchTags})
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "no dbus")
		})
	})
}
