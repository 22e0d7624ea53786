package text

// Truncate 按字节截断并加省略号。max <= 0 视为不限制。
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
