package extract

func extractPlain(data []byte) (string, error) {
	return string(data), nil
}

func init() {
	Register("txt", extractPlain)
}
