package config

type Config struct {
	Running struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"running"`
	Mysql struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"mysql"`
	Redis struct {
		Addrs    []string `mapstructure:"addrs"`
		Password string   `mapstructure:"password"`
	} `mapstructure:"redis"`
	Kafka struct {
		// brokers 为空时关闭 kafka 镜像
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"kafka"`
	Auth struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"auth"`
	Sync struct {
		// 追平窗口：订阅游标最多落后检查点多少条，超出直接拒绝
		CatchupWindow  uint64 `mapstructure:"catchup_window"`
		ReplayPageSize int    `mapstructure:"replay_page_size"`
		// 在线状态 TTL，秒；心跳必须在这个间隔内续约
		PresenceTTLSeconds int `mapstructure:"presence_ttl_seconds"`
		SendQueueSize      int `mapstructure:"send_queue_size"`
	} `mapstructure:"sync"`
}
