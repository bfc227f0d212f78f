// Package logger — логирование с префиксом компонента и асинхронной записью:
// отправка сообщений, realtime-события и таймеры не должны ждать stderr.
package logger

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const asyncBufferSize = 8192

// slowCall — порог, начиная с которого LogDuration пишет вызов на уровне info.
const slowCall = 100 * time.Millisecond

type level int32

const (
	levelDebug level = iota
	levelInfo
	levelError
)

var (
	prefix   atomic.Value
	logLevel atomic.Int32
	ch       chan string
	once     sync.Once
	dropped  atomic.Uint64
)

func init() {
	logLevel.Store(int32(parseLevel(os.Getenv("LOG_LEVEL"))))
}

func parseLevel(s string) level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return levelDebug
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

func initWorker() {
	ch = make(chan string, asyncBufferSize)
	go func() {
		for msg := range ch {
			log.Print(msg)
		}
	}()
}

func enqueue(msg string) {
	once.Do(initWorker)
	select {
	case ch <- msg:
	default:
		// Буфер полон: не блокируем вызывающего, считаем потерянные строки.
		dropped.Add(1)
	}
}

// SetPrefix задаёт префикс для всех последующих логов (например "chatclient", "devserver").
func SetPrefix(p string) {
	prefix.Store(p)
}

// SetLevel переключает уровень: debug, info или error. Пустая строка ничего не меняет.
func SetLevel(s string) {
	if strings.TrimSpace(s) == "" {
		return
	}
	logLevel.Store(int32(parseLevel(s)))
}

// DebugEnabled сообщает, пишутся ли debug-сообщения (чтобы не собирать дорогие аргументы зря).
func DebugEnabled() bool {
	return level(logLevel.Load()) <= levelDebug
}

// Dropped возвращает число строк, потерянных из-за переполнения буфера.
func Dropped() uint64 {
	return dropped.Load()
}

func tag() string {
	p, _ := prefix.Load().(string)
	if p == "" {
		return ""
	}
	return "[" + p + "] "
}

// Debugf пишет только при LOG_LEVEL=debug.
func Debugf(format string, v ...any) {
	if !DebugEnabled() {
		return
	}
	enqueue(tag() + "DEBUG: " + fmt.Sprintf(format, v...))
}

// Info пишет в log с префиксом (асинхронно).
func Info(v ...any) {
	if level(logLevel.Load()) > levelInfo {
		return
	}
	enqueue(tag() + fmt.Sprint(v...))
}

// Infof форматирует и пишет с префиксом (асинхронно).
func Infof(format string, v ...any) {
	if level(logLevel.Load()) > levelInfo {
		return
	}
	enqueue(tag() + fmt.Sprintf(format, v...))
}

// Error пишет ошибку с префиксом (асинхронно).
func Error(v ...any) {
	enqueue(tag() + "ERROR: " + fmt.Sprint(v...))
}

// Errorf форматирует ошибку с префиксом (асинхронно).
func Errorf(format string, v ...any) {
	enqueue(tag() + "ERROR: " + fmt.Sprintf(format, v...))
}

// LogDuration логирует имя операции и время выполнения в миллисекундах.
// На уровне info пишутся только вызовы дольше 100ms, на debug все.
func LogDuration(fn string, start time.Time) {
	elapsed := time.Since(start)
	if DebugEnabled() || elapsed >= slowCall {
		enqueue(fmt.Sprintf("%sfn=%s duration_ms=%d", tag(), fn, elapsed.Milliseconds()))
	}
}

// DeferLogDuration возвращает функцию для defer: defer logger.DeferLogDuration("api.SendMessage", time.Now())().
func DeferLogDuration(fn string, start time.Time) func() {
	return func() { LogDuration(fn, start) }
}
