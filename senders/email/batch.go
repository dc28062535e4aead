package email

import (
	"fmt"
	"sort"

	"github.com/AlexAkulov/releasewatch"

	"github.com/facebookgo/muster"
)

type mailTemplateStruct struct {
	EventsCount int
	Repos       []*mailTemplateRepoStruct
}

type mailTemplateRepoStruct struct {
	Key   string
	Label string
	URL   string
	Items []releasewatch.Event
}

type releaseBatch struct {
	EventsCount int
	Repos       map[string]*mailTemplateRepoStruct
	Sender      *Sender
}

func (s *Sender) batchMaker() muster.Batch {
	return &releaseBatch{
		Sender: s,
		Repos:  map[string]*mailTemplateRepoStruct{},
	}
}

func (b *releaseBatch) Add(item interface{}) {
	event, ok := item.(releasewatch.Event)
	if !ok {
		return
	}
	if b.Repos[event.Key] == nil {
		b.Repos[event.Key] = &mailTemplateRepoStruct{
			Key:   event.Key,
			Label: event.Label,
			URL:   repoURL(event),
		}
	}
	b.Repos[event.Key].Items = append(b.Repos[event.Key].Items, event)
	b.EventsCount++
}

func (b *releaseBatch) Fire(notifier muster.Notifier) {
	defer notifier.Done()
	if b.EventsCount < 1 {
		return
	}
	messageData := &mailTemplateStruct{
		EventsCount: b.EventsCount,
	}
	for _, repo := range b.Repos {
		messageData.Repos = append(messageData.Repos, repo)
	}
	sort.Slice(messageData.Repos, func(i, j int) bool {
		return messageData.Repos[i].Key < messageData.Repos[j].Key
	})
	err := b.Sender.deliver(b.Sender.Recipient, getSubject(messageData), *messageData)
	if err != nil {
		b.Sender.Log.Error().Str("service", "email sender").Str("error", err.Error()).Msg("can't send email")
	}
}

func repoURL(event releasewatch.Event) string {
	if event.Watch == releasewatch.WatchReleases {
		return fmt.Sprintf("https://github.com/%s/releases", event.Key)
	}
	return fmt.Sprintf("https://github.com/%s/tags", event.Key)
}

func getSubject(messageData *mailTemplateStruct) string {
	if messageData.EventsCount == 1 {
		repo := messageData.Repos[0]
		return fmt.Sprintf("%s: %s", repo.Label, repo.Items[0].Body())
	}
	if len(messageData.Repos) == 1 {
		return fmt.Sprintf("%d new versions of %s", messageData.EventsCount, messageData.Repos[0].Label)
	}
	return fmt.Sprintf("%d new versions in %d repos", messageData.EventsCount, len(messageData.Repos))
}
