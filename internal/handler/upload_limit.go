package handler

import "strconv"

func formatUploadLimit(bytes int64) string {
	const mb = 1024 * 1024
	if bytes <= 0 {
		return "0MB"
	}
	value := bytes / mb
	if value <= 0 {
		value = 1
	}
	return strconv.FormatInt(value, 10) + "MB"
}

// multipartOverhead leaves room for boundaries and headers around the file part.
const multipartOverhead = 64 * 1024

func requestBodyLimit(maxFileBytes int64) int64 {
	if maxFileBytes <= 0 {
		return 0
	}
	return maxFileBytes + multipartOverhead
}
