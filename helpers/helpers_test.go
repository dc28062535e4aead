package helpers

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestParseDuration(t *testing.T) {
	Convey("1s", t, func() {
		result, err := ParseDuration("1s")
		So(err, ShouldBeNil)
		So(result, ShouldEqual, time.Duration(time.Second))
	})
	Convey("22m", t, func() {
		result, err := ParseDuration("22m")
		So(err, ShouldBeNil)
		So(result, ShouldEqual, time.Duration(time.Minute*22))
	})
	Convey("4444d", t, func() {
		result, err := ParseDuration("4444d")
		So(err, ShouldBeNil)
		So(result, ShouldEqual, time.Duration(time.Hour*24*4444))
	})
	Convey("3h2m1s", t, func() {
		result, err := ParseDuration("3h2m1s")
		So(err, ShouldBeNil)
		So(result, ShouldEqual, time.Duration(time.Hour*3+time.Minute*2+time.Second))
	})
	Convey("empty", t, func() {
		result, err := ParseDuration("")
		So(err, ShouldBeNil)
		So(result, ShouldEqual, time.Duration(0))
	})
	Convey("garbage", t, func() {
		_, err := ParseDuration("five minutes")
		So(err, ShouldNotBeNil)
	})
}

func TestPrettyDuration(t *testing.T) {
	Convey("trims zero units", t, func() {
		So(PrettyDuration(time.Hour*2), ShouldEqual, "2h")
		So(PrettyDuration(time.Minute*3), ShouldEqual, "3m")
		So(PrettyDuration(time.Minute+1500*time.Millisecond), ShouldEqual, "1m2s")
	})
}

func TestTruncate(t *testing.T) {
	Convey("short strings are kept", t, func() {
		So(Truncate("abc", 5), ShouldEqual, "abc")
	})
	Convey("long strings are cut by runes", t, func() {
		So(Truncate("привет", 3), ShouldEqual, "при")
	})
}

func TestRecoverTo(t *testing.T) {
	Convey("panic becomes error", t, func() {
		f := func() (err error) {
			defer RecoverTo(&err)
			panic(errors.New("boom"))
		}
		err := f()
		So(err, ShouldNotBeNil)
		So(err.Error(), ShouldContainSubstring, "boom")
	})
}

func TestMoveAside(t *testing.T) {
	Convey("corrupted copies with the same stamp are all kept", t, func() {
		dir := t.TempDir()
		path := filepath.Join(dir, "state.json")
		now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

		So(os.WriteFile(path, []byte("first"), 0644), ShouldBeNil)
		first, err := MoveAside(path, now)
		So(err, ShouldBeNil)
		So(first, ShouldEqual, path+".corrupt-20240501T100000Z")

		So(os.WriteFile(path, []byte("second"), 0644), ShouldBeNil)
		second, err := MoveAside(path, now)
		So(err, ShouldBeNil)
		So(second, ShouldEqual, path+".corrupt-20240501T100000Z-2")

		data, err := os.ReadFile(first)
		So(err, ShouldBeNil)
		So(string(data), ShouldEqual, "first")
		data, err = os.ReadFile(second)
		So(err, ShouldBeNil)
		So(string(data), ShouldEqual, "second")
	})

	Convey("missing file is an error", t, func() {
		_, err := MoveAside(filepath.Join(t.TempDir(), "nope"), time.Now())
		So(err, ShouldNotBeNil)
	})
}
