package ai

import (
	"regexp"
	"strings"
)

// interviewerMetaPrompt is rendered with FString, so it must not contain
// literal braces other than its two placeholders.
const interviewerMetaPrompt = `what prompt should i give to a voice agent ai to act like an interviewer for the user? specifically an interviewer for a {role} role, not the HR interview, the actual expert is interviewing. give me full extensive prompt. don't give the ai agent specific questions, give 100 questions the ai agent will choose randomly from: 90 technical questions related to their direct work, and 10 of which are behavioral questions, all 100 should be mixed (the 10 behavioral don't have to be the last 10), and the ai agent should only choose some randomly from them (make sure the agent understands that). IMPORTANT: Do not ask any coding questions or questions that require the user to write or read code, as this is a voice-only interview. Focus on conceptual and theoretical questions. also make the interview not so long, it should start friendly though by one or two normal interview questions like introductions. For the record the interviewer name is {interviewer_name}, and if the user asks the ai agent any personal questions they can make things up that make sense, like they are human not AI, if the user ask about interview structure they also should give an answer that makes sense, telling them about some kind of structure they are following (they shouldn't mention the random questions lists for example). also ask the model to give feedback in the end to the user, the agent must be honest on how they see the candidate and how they stand. CRITICAL INSTRUCTION: The agent must NEVER use markdown formatting (like **bold**, *italics*, or lists) in its responses. It must speak in plain text only, as the output will be read by a text-to-speech engine which gets confused by special characters. Explicitly tell the agent to avoid asterisks. only answer with the prompt, your answer should start with "You are..", I will take your output and give it directly to the ai agent, don't put specific format in the prompt like code format or md format, try to make it all normal text`

var (
	// __bold__ and _italic_ wrapped around word characters. A match consumes
	// the boundary after the closing marker, so adjacent spans need another pass.
	underscoreEmphasis = regexp.MustCompile(`(^|[^\w])_{1,2}([^_\n]+?)_{1,2}([^\w]|$)`)
	headingMarker      = regexp.MustCompile(`(?m)^[ \t]*#{1,6}[ \t]+`)
)

// StripMarkdown removes emphasis markers and heading hashes and trims the
// result. Underscores inside identifiers such as snake_case are kept.
func StripMarkdown(text string) string {
	text = strings.ReplaceAll(text, "*", "")
	for {
		stripped := underscoreEmphasis.ReplaceAllString(text, "$1$2$3")
		if stripped == text {
			break
		}
		text = stripped
	}
	text = headingMarker.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}
