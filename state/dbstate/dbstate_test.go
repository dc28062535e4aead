package dbstate

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AlexAkulov/releasewatch"

	. "github.com/smartystreets/goconvey/convey"
)

func str(s string) *string { return &s }
func id(i int64) *int64    { return &i }

func TestStateManager(t *testing.T) {
	Convey("sqlite StateManager", t, func() {
		dir := t.TempDir()
		path := filepath.Join(dir, "state.db")

		Convey("round trip through reopen", func() {
			s, err := Open(path)
			So(err, ShouldBeNil)
			So(s.Warning(), ShouldEqual, "")
			So(s.IsFirstRun("a/b"), ShouldBeTrue)

			So(s.Update("a/b", releasewatch.RepoStatePatch{LastTagName: str("v1"), LastCommitSHA: str("aaa"), ETag: str(`W/"x"`)}), ShouldBeNil)
			So(s.Update("c/d", releasewatch.RepoStatePatch{LastTagName: str("v2"), LastReleaseID: id(7)}), ShouldBeNil)
			So(s.Update("a/b", releasewatch.RepoStatePatch{ETag: str(`W/"y"`)}), ShouldBeNil)
			want, _ := s.Get("a/b")
			So(s.Close(), ShouldBeNil)

			reopened, err := Open(path)
			So(err, ShouldBeNil)
			defer reopened.Close()
			So(reopened.Keys(), ShouldResemble, []string{"a/b", "c/d"})
			got, ok := reopened.Get("a/b")
			So(ok, ShouldBeTrue)
			So(got.LastTagName, ShouldEqual, "v1")
			So(got.LastCommitSHA, ShouldEqual, "aaa")
			So(got.ETag, ShouldEqual, `W/"y"`)
			So(got.LastChecked.Equal(want.LastChecked), ShouldBeTrue)
			cd, _ := reopened.Get("c/d")
			So(cd.LastReleaseID, ShouldEqual, int64(7))
			So(reopened.GetETag("c/d"), ShouldEqual, "")
		})

		Convey("garbage file is moved aside", func() {
			garbage := []byte(strings.Repeat("definitely not sqlite ", 20))
			So(os.WriteFile(path, garbage, 0644), ShouldBeNil)

			s, err := Open(path)
			So(err, ShouldBeNil)
			defer s.Close()
			So(s.Warning(), ShouldContainSubstring, "corrupted")
			So(s.Keys(), ShouldBeEmpty)

			matches, err := filepath.Glob(path + ".corrupt-*")
			So(err, ShouldBeNil)
			So(len(matches), ShouldEqual, 1)
			moved, err := os.ReadFile(matches[0])
			So(err, ShouldBeNil)
			So(moved, ShouldResemble, garbage)
		})

		Convey("other open errors are returned and nothing is moved", func() {
			So(os.MkdirAll(filepath.Join(path, "inside"), 0755), ShouldBeNil)
			_, err := Open(path)
			So(err, ShouldNotBeNil)
			matches, _ := filepath.Glob(path + ".corrupt-*")
			So(matches, ShouldBeEmpty)
		})

		Convey("only sqlite result codes count as corruption", func() {
			So(isCorrupted(errors.New("file is not a database")), ShouldBeFalse)

			garbage := []byte(strings.Repeat("definitely not sqlite ", 20))
			So(os.WriteFile(path, garbage, 0644), ShouldBeNil)
			s := &StateManager{Location: path}
			err := s.open()
			So(err, ShouldNotBeNil)
			So(isCorrupted(err), ShouldBeTrue)
		})
	})
}
