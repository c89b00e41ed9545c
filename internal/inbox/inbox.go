// Package inbox decides which inbound Slack messages are relayed and
// extracts the fields the relay consumes.
package inbox

import (
	"strings"

	"github.com/slack-go/slack/slackevents"
	"go.uber.org/zap"
)

// SubtypeFileShare is the only message subtype the relay accepts.
const SubtypeFileShare = "file_share"

// defaultAudioName is used when Slack omits a file name.
const defaultAudioName = "audio_file.bin"

// audioFiletypes are Slack filetypes treated as audio regardless of mimetype.
var audioFiletypes = map[string]bool{
	"m4a": true, "mp3": true, "mpeg": true, "mpga": true,
	"wav": true, "webm": true, "ogg": true,
}

// File is an attachment on an inbound message.
type File struct {
	ID          string
	Name        string
	Mimetype    string
	Filetype    string
	DownloadURL string
}

// IsAudio reports whether the file is an audio recording.
func (f File) IsAudio() bool {
	return strings.HasPrefix(f.Mimetype, "audio/") || audioFiletypes[f.Filetype]
}

// Message is an inbound message event.
type Message struct {
	ChannelID string
	// ThreadTS is the timestamp replies are threaded under.
	ThreadTS string
	UserID   string
	BotID    string
	SubType  string
	Text     string
	Files    []File
}

// HasAudio reports whether any attached file is audio.
func (m Message) HasAudio() bool {
	for _, f := range m.Files {
		if f.IsAudio() {
			return true
		}
	}
	return false
}

// AudioFile returns the first audio file that can be downloaded.
func (m Message) AudioFile() (File, bool) {
	for _, f := range m.Files {
		if !f.IsAudio() || f.DownloadURL == "" {
			continue
		}
		if f.Name == "" {
			f.Name = defaultAudioName
		}
		return f, true
	}
	return File{}, false
}

// FromEvent converts a Slack message event. Replies thread under the
// parent when the message is already in a thread, else under the message.
func FromEvent(ev *slackevents.MessageEvent) Message {
	thread := ev.ThreadTimeStamp
	if thread == "" {
		thread = ev.TimeStamp
	}
	m := Message{
		ChannelID: ev.Channel,
		ThreadTS:  thread,
		UserID:    ev.User,
		BotID:     ev.BotID,
		SubType:   ev.SubType,
		Text:      ev.Text,
	}
	// Decoding always fills Message, top-level fields included.
	if ev.Message == nil {
		return m
	}
	for _, f := range ev.Message.Files {
		m.Files = append(m.Files, File{
			ID:          f.ID,
			Name:        f.Name,
			Mimetype:    f.Mimetype,
			Filetype:    f.Filetype,
			DownloadURL: f.URLPrivateDownload,
		})
	}
	return m
}

// Filter applies the relay's acceptance rules.
type Filter struct {
	BotUserID string
	Logger    *zap.Logger
}

// ShouldProcess reports whether m is relayed. Accepted are plain messages
// from a user carrying text or files, and file shares carrying audio.
// Messages from this bot or any bot are ignored.
func (f Filter) ShouldProcess(m Message) bool {
	log := f.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("user", m.UserID), zap.String("subtype", m.SubType))

	switch {
	case f.BotUserID != "" && m.UserID == f.BotUserID:
		log.Debug("ignoring message from self")
		return false
	case m.BotID != "":
		log.Debug("ignoring bot message")
		return false
	case m.UserID == "":
		log.Debug("ignoring message without user")
		return false
	}

	switch m.SubType {
	case "":
		if m.Text == "" && len(m.Files) == 0 {
			log.Debug("ignoring empty message")
			return false
		}
		return true
	case SubtypeFileShare:
		if !m.HasAudio() {
			log.Debug("ignoring file share without audio")
			return false
		}
		return true
	default:
		log.Debug("ignoring unsupported subtype")
		return false
	}
}
