package config

type NotifyConfig interface {
	GetTelegramToken() string
	GetTelegramChatID() int64
}

type Notify struct{}

var _ NotifyConfig = Notify{}

func (Notify) GetTelegramToken() string {
	return GetEnv("TELEGRAM_BOT_TOKEN", "")
}

func (Notify) GetTelegramChatID() int64 {
	return int64(GetEnvInt("TELEGRAM_CHAT_ID", 0))
}
