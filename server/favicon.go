package server

import (
	"context"
	"encoding/base64"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const debounceFaviconRereadDuration = time.Second

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// Favicon holds the server icon shown in the server list as a data URI
type Favicon struct {
	fileName string

	sync.RWMutex
	dataUri string
}

func NewFavicon(fileName string) *Favicon {
	return &Favicon{fileName: fileName}
}

// DataUri is the current icon, or empty when there is none
func (f *Favicon) DataUri() string {
	if f == nil {
		return ""
	}
	f.RLock()
	defer f.RUnlock()
	return f.dataUri
}

// Load reads the icon file. A missing file clears the icon.
func (f *Favicon) Load() error {
	content, err := os.ReadFile(f.fileName)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logrus.WithField("file", f.fileName).Debug("Favicon file does not exist, serving no icon")
			f.set("")
			return nil
		}
		return errors.Wrap(err, "could not read favicon")
	}

	dataUri, err := EncodeFavicon(content)
	if err != nil {
		return err
	}
	f.set(dataUri)
	logrus.WithField("file", f.fileName).Info("Loaded favicon")
	return nil
}

func (f *Favicon) set(dataUri string) {
	f.Lock()
	defer f.Unlock()
	f.dataUri = dataUri
}

// EncodeFavicon converts PNG content into the data URI form used by status responses
func EncodeFavicon(content []byte) (string, error) {
	if len(content) < len(pngSignature) || string(content[:len(pngSignature)]) != string(pngSignature) {
		return "", errors.New("favicon must be a PNG image")
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(content), nil
}

// WatchForChanges reloads the icon whenever its file is written
func (f *Favicon) WatchForChanges(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "Could not create a watcher")
	}

	err = watcher.Add(f.fileName)
	if err != nil {
		_ = watcher.Close()
		return errors.Wrap(err, "Could not watch the favicon file")
	}

	go func() {
		logrus.WithField("file", f.fileName).Info("Watching favicon file")

		debounceTimerChan := make(<-chan time.Time)
		var debounceTimer *time.Timer

		//goland:noinspection GoUnhandledErrorResult
		defer watcher.Close()
		for {
			select {

			case event, ok := <-watcher.Events:
				if !ok {
					logrus.Debug("Watcher events channel closed")
					return
				}
				logrus.
					WithField("file", event.Name).
					WithField("op", event.Op).
					Trace("fs event received")
				if event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) {
					if debounceTimer == nil {
						debounceTimer = time.NewTimer(debounceFaviconRereadDuration)
					} else {
						debounceTimer.Reset(debounceFaviconRereadDuration)
					}
					debounceTimerChan = debounceTimer.C
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logrus.WithError(err).Warn("Favicon watcher error")

			case <-debounceTimerChan:
				if err := f.Load(); err != nil {
					logrus.
						WithError(err).
						WithField("file", f.fileName).
						Error("Could not re-read the favicon file")
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}
