package webhook

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/AlexAkulov/releasewatch"

	. "github.com/smartystreets/goconvey/convey"
)

func TestSender(t *testing.T) {
	Convey("webhook sender", t, func() {
		var (
			method, contentType, token string
			payload                    map[string]interface{}
			status                     = http.StatusOK
		)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			method = r.Method
			contentType = r.Header.Get("Content-Type")
			token = r.Header.Get("X-Token")
			body, _ := io.ReadAll(r.Body)
			json.Unmarshal(body, &payload)
			w.WriteHeader(status)
		}))
		defer srv.Close()

		s := &Sender{URL: srv.URL, Headers: map[string]string{"X-Token": "abc"}}
		So(s.Start(), ShouldBeNil)
		event := releasewatch.Event{ID: "1", Label: "Go", Key: "golang/go", Version: "v1.22.0", Watch: releasewatch.WatchTags}

		Convey("posts the event as json", func() {
			So(s.Send(event), ShouldBeNil)
			So(method, ShouldEqual, http.MethodPost)
			So(contentType, ShouldEqual, "application/json")
			So(token, ShouldEqual, "abc")
			So(payload["repo"], ShouldEqual, "golang/go")
			So(payload["version"], ShouldEqual, "v1.22.0")
		})

		Convey("error status is reported", func() {
			status = http.StatusInternalServerError
			So(s.Send(event), ShouldNotBeNil)
		})
	})
}
