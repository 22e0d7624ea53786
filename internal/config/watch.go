package config

import (
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"kestrel/internal/logger"
)

// Watcher 热更新配置文件。只有风控段会动态生效，其余段改了要重启。
type Watcher struct {
	v  *viper.Viper
	mu sync.RWMutex

	current *Config
	onRisk  func(RiskConfig)
}

// Watch 加载配置并持续监听文件变化。onRisk 在 risk 段变化时回调，可为 nil。
func Watch(path string, onRisk func(RiskConfig)) (*Watcher, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	w := &Watcher{v: v, current: cfg, onRisk: onRisk}
	v.OnConfigChange(func(e fsnotify.Event) {
		w.reload(e)
	})
	v.WatchConfig()
	return w, nil
}

func (w *Watcher) reload(e fsnotify.Event) {
	cfg, err := decode(w.v)
	if err != nil {
		logger.Warnf("配置 %s 重载失败，沿用旧配置: %v", e.Name, err)
		return
	}
	w.mu.Lock()
	old := w.current
	w.current = cfg
	w.mu.Unlock()
	logger.Infof("配置已重载: %s", e.Name)
	if w.onRisk != nil && old.Risk != cfg.Risk {
		w.onRisk(cfg.Risk)
	}
}

func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}
