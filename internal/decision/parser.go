package decision

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"kestrel/internal/pkg/jsonutil"
	"kestrel/internal/pkg/symbol"
)

// Parse 从上游原始输出中提取 JSON 决策并做结构校验。
// 流程：抽取 JSON 块 -> gjson 预检必需字段 -> 严格反序列化 -> 业务校验。
func Parse(raw string) (*TradingDecision, error) {
	block, ok := jsonutil.ExtractJSON(raw)
	if !ok {
		return nil, fmt.Errorf("未找到 JSON 决策对象")
	}
	if !gjson.Valid(block) {
		return nil, fmt.Errorf("决策 JSON 非法")
	}
	parsed := gjson.Parse(block)
	if !parsed.Get("action").Exists() {
		return nil, fmt.Errorf("决策缺少 action 字段")
	}
	if !parsed.Get("confidence").Exists() {
		return nil, fmt.Errorf("决策缺少 confidence 字段")
	}

	var d TradingDecision
	dec := json.NewDecoder(strings.NewReader(block))
	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("决策反序列化失败: %w", err)
	}
	d.Action = NormalizeAction(string(d.Action))
	d.Symbol = symbol.VenueString(d.Symbol)
	if err := Validate(&d); err != nil {
		return nil, err
	}
	return &d, nil
}
