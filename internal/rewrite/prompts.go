package rewrite

// Variant 改写对象
type Variant int

const (
	VariantContent Variant = iota // 正文
	VariantTitle                  // 标题
)

func (v Variant) String() string {
	if v == VariantTitle {
		return "标题"
	}
	return "正文"
}

// Prompt 拼在原文前面的提示词
func (v Variant) Prompt() string {
	if v == VariantTitle {
		return titlePrompt
	}
	return contentPrompt
}

const contentPrompt = `
请你完成以下文章的洗稿工作，要求如下：
1.  核心主旨和关键信息完全保留，不增减原文的核心观点和重要数据；
2.  行文结构可适当调整，语句表达重新组织，避免与原文重复率过高；
3.  语言流畅、逻辑清晰，符合书面语规范，保持与原文相近的文风（正式/通俗）；
4.  无语法错误，无冗余内容，篇幅与原文大致相当（误差不超过 10%）。
5.  不需要对你的分析做出任何解释，直接返回洗稿后的结果

需要洗稿的原文：
`

const titlePrompt = `
请你完成以下标题的洗稿工作，要求如下：
1.  核心主旨和关键信息完全保留，不增减原标题的核心观点和重要数据；
2.  标题结构可适当调整，语句表达重新组织，避免与原标题重复率过高；
3.  语言流畅、逻辑清晰，符合书面语规范，保持与原标题相近的文风（正式/通俗）；
4.  不需要对你的分析做出任何解释，直接返回洗稿后的结果

需要洗稿的标题：
`
