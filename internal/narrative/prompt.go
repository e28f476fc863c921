package narrative

import (
	"strings"
)

// AnswerSystemPrompt instructs the answer model to stay within the supplied
// news context and to say so when the context does not support an answer.
const AnswerSystemPrompt = `You are a helpful news article search assistant. Your task is to provide an accurate, and relevant answer to a user's question.
Use the provided news articles, provided as context to answer the user's question. If there is not supporting context to properly answer the question,
politely indicate that you don't have any supporting news information to properly answer the question.`

const enrichmentTemplate = `<document>
{{document}}
</document>

Here is the chunk we want to situate within the whole document
<chunk>
{{chunk}}
</chunk>

Please give a short, succinct context to situate this chunk within the overall document, for the purposes of improving search retrieval of the chunk.
Answer only with the succinct context and nothing else.`

const answerTemplate = `The context is provided as: {{context}}
The question is provided as: {{question}}`

// EnrichmentPrompt asks for a situating context of chunk within document.
func EnrichmentPrompt(document, chunk string) string {
	return strings.NewReplacer(
		"{{document}}", document,
		"{{chunk}}", chunk,
	).Replace(enrichmentTemplate)
}

// AnswerPrompt embeds the retrieved context and the question. An empty
// context is passed through as is; the system prompt covers that case.
func AnswerPrompt(context, question string) string {
	return strings.NewReplacer(
		"{{context}}", context,
		"{{question}}", question,
	).Replace(answerTemplate)
}
