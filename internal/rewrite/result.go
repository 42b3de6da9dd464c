package rewrite

import "fmt"

// Result 改写结果, 只能是成功(带文本)或失败(带原因)
// 调用方必须通过 Text 的 ok 判断, 不存在"看起来像失败"的字符串
type Result struct {
	text   string
	reason string
	ok     bool
}

// Success 改写成功
func Success(text string) Result {
	return Result{text: text, ok: true}
}

// Failure 改写失败
func Failure(format string, args ...any) Result {
	return Result{reason: fmt.Sprintf(format, args...)}
}

// Text 成功时返回改写后的文本
func (r Result) Text() (string, bool) {
	return r.text, r.ok
}

// Reason 失败原因, 成功时为空
func (r Result) Reason() string {
	return r.reason
}

// OK 是否成功
func (r Result) OK() bool {
	return r.ok
}

// Or 成功时返回改写文本, 否则返回 fallback
func (r Result) Or(fallback string) string {
	if r.ok {
		return r.text
	}
	return fallback
}

func (r Result) String() string {
	if r.ok {
		return fmt.Sprintf("Success(%d字)", len([]rune(r.text)))
	}
	return "Failure(" + r.reason + ")"
}
