package logger

import (
	"io"
	"log"
	"strings"
	"sync"
)

// 中文说明：
// 决策日志：将上游决策的原始 JSON 与执行结果追加写入独立文件，便于事后复盘。

var (
	journalMu  sync.Mutex
	journalLog *log.Logger
)

func SetJournalWriter(w io.Writer) {
	journalMu.Lock()
	defer journalMu.Unlock()
	if w == nil {
		journalLog = nil
		return
	}
	journalLog = log.New(w, "", log.LstdFlags)
}

// LogDecision 记录一次决策的原始载荷与处理结果（raw 为上游 JSON 原文）。
func LogDecision(symbol, action, outcome, raw string) {
	journalMu.Lock()
	l := journalLog
	journalMu.Unlock()
	if l == nil {
		return
	}
	var b strings.Builder
	b.WriteString("[decision]")
	b.WriteString("[" + symbol + "]")
	b.WriteString("[" + action + "]")
	b.WriteString("[" + outcome + "]\n")
	raw = strings.TrimSpace(raw)
	if raw != "" {
		b.WriteString(raw)
		b.WriteString("\n")
	}
	b.WriteString("=====\n")
	l.Print(b.String())
}
