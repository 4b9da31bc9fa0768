package models

const (
	// ImageRefRegex matches the [Image: <filename>] tags the extractor embeds in page text.
	ImageRefRegex = `\[Image:\s*(.*?)\]`

	// DescribeFailed is stored in place of a description when the vision model call fails.
	DescribeFailed = "Error describing image."

	ImageTagFormat = "\n\n[Image: %s]\n%s"

	// Index metadata keys.
	MetaSource  = "source"
	MetaPage    = "page"
	MetaChunkID = "chunk_id"

	ResponseLogVersion = 1
)

var (
	DescribeSystemPrompt = "Your job is to extract all the information from the images, including the text. " +
		"Extract all the text from the image without changing the order or structure of the information."

	DescribeUserPrompt = "Extract ALL the text from the image in the same structure, " +
		"and then provide a brief summary without missing any details."

	QAPromptTemplate = `Use the following pieces of context to answer the question at the end. If you don't know the answer and don't find it in the given context, just say that you don't know, don't try to make up an answer.
{context}
Question: {question}
Helpful Answer:`
)
