package config

// IdentityConfig 身份配置
type IdentityConfig struct {
	// KeyFile 私钥文件路径
	// 为空时在内存中生成临时密钥
	KeyFile string `json:"key_file"`

	// AutoGenerate 密钥文件不存在时是否自动生成
	AutoGenerate bool `json:"auto_generate"`
}

// DefaultIdentityConfig 返回默认身份配置
func DefaultIdentityConfig() IdentityConfig {
	return IdentityConfig{
		KeyFile:      "",
		AutoGenerate: true,
	}
}

// Validate 验证身份配置
func (c IdentityConfig) Validate() error {
	return nil
}
