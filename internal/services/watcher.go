package services

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/fyerfyer/ocr-proofreader/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	// selfWriteWindow 本服务写文件后这段时间内的事件不触发重新加载
	selfWriteWindow = 2 * time.Second
	// settleDelay 文件事件停止这么久之后才重新加载
	settleDelay = 300 * time.Millisecond
)

func (s *ProofreadService) markSelfWrite(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selfWrites[cleanPath(path)] = time.Now()
}

func (s *ProofreadService) isSelfWrite(path string, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.selfWrites[path]
	return ok && at.Sub(t) < selfWriteWindow
}

func cleanPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return filepath.Clean(abs)
	}
	return filepath.Clean(path)
}

// Watch 监视两侧文本文件，文件在外部被修改后重新加载对应一侧
// 监视的是文件所在目录，编辑器先写临时文件再重命名时也能收到事件
// 阻塞直到ctx取消
func (s *ProofreadService) Watch(ctx context.Context) error {
	sides := make(map[string]models.Side)
	dirs := make(map[string]struct{})
	for side, path := range s.cfg.TextPaths {
		if path == "" {
			continue
		}
		p := cleanPath(path)
		sides[p] = side
		dirs[filepath.Dir(p)] = struct{}{}
	}
	if len(sides) == 0 {
		<-ctx.Done()
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer w.Close()

	for dir := range dirs {
		if err := w.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}
	s.logger.WithField("files", len(sides)).Info("Watching text files")

	pending := make(map[string]time.Time)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			p := cleanPath(ev.Name)
			if _, watched := sides[p]; !watched {
				continue
			}
			pending[p] = time.Now()

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.WithError(err).Warn("File watcher error")

		case now := <-ticker.C:
			for p, t := range pending {
				if now.Sub(t) < settleDelay {
					continue
				}
				delete(pending, p)
				if s.isSelfWrite(p, t) {
					continue
				}
				s.reloadChanged(sides[p], p)
			}
		}
	}
}

func (s *ProofreadService) reloadChanged(side models.Side, path string) {
	logger := s.logger.WithFields(logrus.Fields{"side": side, "path": path})
	if err := s.ReloadSide(side); err != nil {
		logger.WithError(err).Warn("Failed to reload changed text file")
		return
	}
	logger.Info("Text file changed on disk, reloaded")
}
