package filestate

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/AlexAkulov/releasewatch"
)

// repoJSON is the on-disk record, keyed by "owner/repo" in the state file.
type repoJSON struct {
	LastTagName   string    `json:"last_tag_name"`
	LastCommitSHA string    `json:"last_commit_sha,omitempty"`
	LastReleaseID int64     `json:"last_release_id,omitempty"`
	ETag          *string   `json:"etag"`
	LastChecked   time.Time `json:"last_checked"`
}

func convertToRawData(state map[string]releasewatch.RepoState) ([]byte, error) {
	fileStruct := make(map[string]repoJSON, len(state))
	for key, r := range state {
		rj := repoJSON{
			LastTagName:   r.LastTagName,
			LastCommitSHA: r.LastCommitSHA,
			LastReleaseID: r.LastReleaseID,
			LastChecked:   r.LastChecked,
		}
		if r.ETag != "" {
			etag := r.ETag
			rj.ETag = &etag
		}
		fileStruct[key] = rj
	}
	return json.MarshalIndent(fileStruct, "", "  ")
}

func convertFromRawData(rawData []byte) (map[string]releasewatch.RepoState, error) {
	result := map[string]releasewatch.RepoState{}
	if len(bytes.TrimSpace(rawData)) == 0 {
		return result, nil
	}
	fileStruct := map[string]*repoJSON{}
	if err := json.Unmarshal(rawData, &fileStruct); err != nil {
		return nil, err
	}
	for key, r := range fileStruct {
		// null records were never completed, the repository stays on first run
		if r == nil {
			continue
		}
		s := releasewatch.RepoState{
			LastTagName:   r.LastTagName,
			LastCommitSHA: r.LastCommitSHA,
			LastReleaseID: r.LastReleaseID,
			LastChecked:   r.LastChecked,
		}
		if r.ETag != nil {
			s.ETag = *r.ETag
		}
		result[key] = s
	}
	return result, nil
}
