package metrics

import (
	"fmt"
	"io/ioutil"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Logger interface {
	Log(info *MetricsInfo)
}

// StdoutLogger writes each metrics record as one log line.
type StdoutLogger struct {
	log zerolog.Logger
}

func NewStdoutLogger(log zerolog.Logger) *StdoutLogger {
	return &StdoutLogger{log: log}
}

func (l *StdoutLogger) Log(info *MetricsInfo) {
	infoStr, err := info.ToJSON()
	if err != nil {
		l.log.Error().Err(err).Msg("StdoutLogger: encoding metrics")
		return
	}
	l.log.Info().RawJSON("metrics", []byte(strings.TrimSpace(infoStr))).Msg("request")
}

const defaultQueueSize = 2000
const defaultLogWriters = 2
const defaultMaxLogFileSize = 1024 * 1024 * 1024
const defaultMaxLogFiles = 10

// FileLogger appends metrics records to files log0, log1, ... in LogDir,
// one per writer goroutine. A file reaching MaxLogFileSize is rotated to
// logN.M; once MaxLogFiles rotations exist the oldest is overwritten.
type FileLogger struct {
	MetricsQueue   chan *MetricsInfo
	LogDir         string
	MaxLogFileSize int64
	MaxLogFiles    int
	Verbose        bool

	log  zerolog.Logger
	wg   sync.WaitGroup
	once sync.Once
}

func NewFileLogger(log zerolog.Logger, logDir string, maxLogFileSize int64, maxLogFiles int, verbose bool) *FileLogger {
	if maxLogFileSize <= 0 {
		maxLogFileSize = defaultMaxLogFileSize
	}
	if maxLogFiles <= 0 {
		maxLogFiles = defaultMaxLogFiles
	}
	logger := &FileLogger{
		MetricsQueue:   make(chan *MetricsInfo, defaultQueueSize),
		LogDir:         logDir,
		MaxLogFileSize: maxLogFileSize,
		MaxLogFiles:    maxLogFiles,
		Verbose:        verbose,
		log:            log,
	}

	for i := 0; i < defaultLogWriters; i++ {
		logger.wg.Add(1)
		go logger.startLogWriter(i)
	}

	return logger
}

func (l *FileLogger) Log(info *MetricsInfo) {
	l.MetricsQueue <- info
}

// Close flushes the queue and stops the writers. Log must not be called
// after Close.
func (l *FileLogger) Close() {
	l.once.Do(func() {
		close(l.MetricsQueue)
	})
	l.wg.Wait()
}

func (l *FileLogger) startLogWriter(idx int) {
	defer l.wg.Done()

	f, err := l.openLogFile(idx)
	if err != nil {
		l.log.Error().Err(err).Msgf("FileLogger%d: log open error", idx)
	}

	for info := range l.MetricsQueue {
		infoStr, err := info.ToJSON()
		if err != nil {
			l.log.Error().Err(err).Msgf("FileLogger%d: info.ToJSON() error", idx)
			continue
		}

		f, err = l.tryRotateLogFile(f, idx)
		if err != nil {
			continue
		}

		if _, err := f.WriteString(infoStr); err != nil {
			l.log.Error().Err(err).Msgf("FileLogger%d: write error", idx)
			continue
		}
		f.Sync()
	}

	if f != nil {
		f.Close()
	}
}

func (l *FileLogger) logFilePath(idx int) string {
	return path.Join(l.LogDir, fmt.Sprintf("log%d", idx))
}

func (l *FileLogger) openLogFile(idx int) (*os.File, error) {
	return os.OpenFile(l.logFilePath(idx), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
}

func (l *FileLogger) tryRotateLogFile(currFile *os.File, idx int) (*os.File, error) {
	if currFile == nil {
		return l.openLogFile(idx)
	}

	info, err := currFile.Stat()
	if err != nil {
		l.log.Error().Err(err).Msgf("FileLogger%d: log rotation error", idx)
		return currFile, nil
	}
	if info.Size() < l.MaxLogFileSize {
		return currFile, nil
	}

	var rotatedLogFilePath string
	for i := 0; i < l.MaxLogFiles; i++ {
		filePath := path.Join(l.LogDir, fmt.Sprintf("log%d.%d", idx, i))
		if _, err := os.Stat(filePath); os.IsNotExist(err) {
			rotatedLogFilePath = filePath
			break
		}
	}

	if len(rotatedLogFilePath) == 0 {
		rotatedLogFilePath, err = l.oldestRotation(idx)
		if err != nil {
			l.log.Error().Err(err).Msgf("FileLogger%d: log rotation error", idx)
			return currFile, nil
		}

		if l.Verbose {
			l.log.Debug().Msgf("FileLogger%d: maximum number of log files reached, overwriting %s", idx, rotatedLogFilePath)
		}
		if err := os.Remove(rotatedLogFilePath); err != nil && !os.IsNotExist(err) {
			l.log.Error().Err(err).Msgf("FileLogger%d: log rotation error", idx)
			return currFile, nil
		}
	}

	currFile.Close()
	if err := os.Rename(l.logFilePath(idx), rotatedLogFilePath); err != nil {
		l.log.Error().Err(err).Msgf("FileLogger%d: log rotation error", idx)
	} else if l.Verbose {
		l.log.Debug().Msgf("FileLogger%d: log file rotated: %v", idx, rotatedLogFilePath)
	}

	f, err := l.openLogFile(idx)
	if err != nil {
		l.log.Error().Err(err).Msgf("FileLogger%d: log open error", idx)
	}
	return f, err
}

func (l *FileLogger) oldestRotation(idx int) (string, error) {
	files, err := ioutil.ReadDir(l.LogDir)
	if err != nil {
		return "", err
	}

	var oldestFile os.FileInfo
	oldestTime := time.Now()
	for _, file := range files {
		if !file.Mode().IsRegular() {
			continue
		}

		fileName := filepath.Base(file.Name())
		if fileName == fmt.Sprintf("log%d", idx) {
			continue
		}
		if strings.TrimSuffix(fileName, path.Ext(fileName)) != fmt.Sprintf("log%d", idx) {
			continue
		}

		if file.ModTime().Before(oldestTime) {
			oldestFile = file
			oldestTime = file.ModTime()
		}
	}

	if oldestFile != nil {
		return path.Join(l.LogDir, oldestFile.Name()), nil
	}
	return path.Join(l.LogDir, fmt.Sprintf("log%d.%d", idx, 0)), nil
}
