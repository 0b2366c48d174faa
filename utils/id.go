package utils

import (
	"strings"

	"github.com/google/uuid"
)

// GenerateID 生成12位短ID，用于结果与产物文件名
func GenerateID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
