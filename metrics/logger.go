package metrics

import (
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

type Logger interface {
	Log(info *ExtractionInfo)
}

type StdoutLogger struct{}

func NewStdoutLogger() *StdoutLogger {
	return &StdoutLogger{}
}

func (l *StdoutLogger) Log(info *ExtractionInfo) {
	infoStr, err := info.ToJSON()
	if err == nil {
		log.Print(infoStr)
	} else {
		log.Printf("StdoutLogger: error: %v", err)
	}
}

const defaultQueueSize = 2000
const defaultLogWriters = 2
const defaultMaxLogFileSize = 256 * 1024 * 1024
const defaultMaxLogFiles = 10

// FileLogger writes records from a queue into size-rotated files named
// extract<writer>[.<n>] under LogDir.
type FileLogger struct {
	queue          chan *ExtractionInfo
	LogDir         string
	MaxLogFileSize int64
	MaxLogFiles    int
	Verbose        bool

	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewFileLogger(logDir string, maxLogFileSize int64, maxLogFiles int, verbose bool) (*FileLogger, error) {
	if maxLogFileSize <= 0 {
		maxLogFileSize = defaultMaxLogFileSize
	}
	if maxLogFiles <= 0 {
		maxLogFiles = defaultMaxLogFiles
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, err
	}
	l := &FileLogger{
		queue:          make(chan *ExtractionInfo, defaultQueueSize),
		LogDir:         logDir,
		MaxLogFileSize: maxLogFileSize,
		MaxLogFiles:    maxLogFiles,
		Verbose:        verbose,
	}

	for i := 0; i < defaultLogWriters; i++ {
		l.wg.Add(1)
		go l.startLogWriter(i)
	}
	return l, nil
}

func (l *FileLogger) Log(info *ExtractionInfo) {
	l.queue <- info
}

// Close drains the queue and waits for the writers. Log must not be
// called afterwards.
func (l *FileLogger) Close() {
	l.closeOnce.Do(func() { close(l.queue) })
	l.wg.Wait()
}

func (l *FileLogger) logFilePath(idx int) string {
	return filepath.Join(l.LogDir, fmt.Sprintf("extract%d", idx))
}

func (l *FileLogger) startLogWriter(idx int) {
	defer l.wg.Done()

	f, err := os.OpenFile(l.logFilePath(idx), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("FileLogger%d: log open error: %v", idx, err)
	}
	defer func() {
		if f != nil {
			f.Close()
		}
	}()

	for info := range l.queue {
		infoStr, err := info.ToJSON()
		if err != nil {
			log.Printf("FileLogger%d: info.ToJSON() error: %v", idx, err)
			continue
		}
		if f == nil {
			continue
		}
		f = l.tryRotate(f, idx)
		if _, err := f.WriteString(infoStr); err != nil {
			log.Printf("FileLogger%d: write error: %v", idx, err)
		}
	}
}

// rotationTarget picks the first free numbered slot, or the oldest one
// once MaxLogFiles slots are taken.
func (l *FileLogger) rotationTarget(idx int) (string, error) {
	for i := 0; i < l.MaxLogFiles; i++ {
		p := fmt.Sprintf("%s.%d", l.logFilePath(idx), i)
		if _, err := os.Stat(p); os.IsNotExist(err) {
			return p, nil
		}
	}

	files, err := ioutil.ReadDir(l.LogDir)
	if err != nil {
		return "", err
	}
	prefix := filepath.Base(l.logFilePath(idx)) + "."
	target := fmt.Sprintf("%s.%d", l.logFilePath(idx), 0)
	oldest := time.Now()
	for _, file := range files {
		if !file.Mode().IsRegular() || !strings.HasPrefix(file.Name(), prefix) {
			continue
		}
		if file.ModTime().Before(oldest) {
			oldest = file.ModTime()
			target = filepath.Join(l.LogDir, file.Name())
		}
	}
	if l.Verbose {
		log.Printf("FileLogger%d: maximum number of log files reached, overwriting %s", idx, target)
	}
	return target, os.Remove(target)
}

func (l *FileLogger) tryRotate(curr *os.File, idx int) *os.File {
	info, err := curr.Stat()
	if err != nil || info.Size() < l.MaxLogFileSize {
		return curr
	}

	target, err := l.rotationTarget(idx)
	if err != nil {
		log.Printf("FileLogger%d: log rotation error: %v", idx, err)
		return curr
	}
	curr.Close()
	if err := os.Rename(l.logFilePath(idx), target); err != nil {
		log.Printf("FileLogger%d: log rotation error: %v", idx, err)
	}

	f, err := os.OpenFile(l.logFilePath(idx), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("FileLogger%d: log reopen error: %v", idx, err)
		return curr
	}
	if l.Verbose {
		log.Printf("FileLogger%d: log file rotated: %v", idx, target)
	}
	return f
}
