package service

import (
	"bytes"
	"strings"

	"github.com/rwcarlsen/goexif/exif"
)

// 取证上有意义的EXIF字段，过长的二进制字段不进响应
var exifFields = []exif.FieldName{
	exif.Make,
	exif.Model,
	exif.Software,
	exif.DateTime,
	exif.DateTimeOriginal,
	exif.Orientation,
	exif.PixelXDimension,
	exif.PixelYDimension,
}

// exifSummary 从原始上传字节提取EXIF摘要。没有EXIF或解析失败时返回nil，
// 元数据缺失不是错误。
func exifSummary(data []byte) map[string]string {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return nil
	}

	summary := make(map[string]string)
	for _, name := range exifFields {
		tag, err := x.Get(name)
		if err != nil {
			continue
		}
		val := strings.Trim(tag.String(), `"`)
		if val == "" {
			continue
		}
		summary[string(name)] = val
	}

	if len(summary) == 0 {
		return nil
	}
	return summary
}
