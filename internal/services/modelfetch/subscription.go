package modelfetch

import (
	"errors"
	"sync"
)

type DownloadStatus string

const (
	StatusDownloading DownloadStatus = "downloading"
	StatusReady       DownloadStatus = "ready"
	StatusFailed      DownloadStatus = "failed"
)

var ErrDownloadFailed = errors.New("checkpoint download failed")

// SubscriptionManager lets concurrent requests for the same source
// wait on a single in-flight download instead of racing.
type SubscriptionManager struct {
	mu              sync.RWMutex
	sourceStatus    map[string]DownloadStatus
	pendingRequests map[string][]chan error
}

func NewSubscriptionManager() *SubscriptionManager {
	return &SubscriptionManager{
		sourceStatus:    make(map[string]DownloadStatus),
		pendingRequests: make(map[string][]chan error),
	}
}

func (sm *SubscriptionManager) SetStatus(source string, status DownloadStatus) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.sourceStatus[source] = status

	if status == StatusReady || status == StatusFailed {
		if channels, ok := sm.pendingRequests[source]; ok {
			var err error
			if status == StatusFailed {
				err = ErrDownloadFailed
			}
			for _, ch := range channels {
				ch <- err
				close(ch)
			}
			delete(sm.pendingRequests, source)
		}
	}
}

func (sm *SubscriptionManager) GetStatus(source string) DownloadStatus {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.sourceStatus[source]
}

func (sm *SubscriptionManager) Subscribe(source string) <-chan error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	resultChan := make(chan error, 1)

	switch sm.sourceStatus[source] {
	case StatusReady:
		resultChan <- nil
		close(resultChan)
	case StatusFailed:
		resultChan <- ErrDownloadFailed
		close(resultChan)
	default:
		sm.pendingRequests[source] = append(sm.pendingRequests[source], resultChan)
	}

	return resultChan
}
