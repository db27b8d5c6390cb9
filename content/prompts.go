package content

import (
	"fmt"
	"strings"

	"github.com/ardelis/postqueue/errors"
	"github.com/ardelis/postqueue/queue/policy"
)

// Style names accepted by BuildPrompt. Each platform maps a style to a
// prompt template tuned for that platform's format and length ceiling.
const (
	StyleShortPost         = "short_post"
	StyleThreadStarter     = "thread_starter"
	StyleProfessionalPost  = "professional_post"
	StyleThoughtLeadership = "thought_leadership"
	StyleEngagingCaption   = "engaging_caption"
	StyleStoryText         = "story_text"
)

var promptTemplates = map[policy.Platform]map[string]string{
	policy.Twitter: {
		StyleShortPost: "Generate a concise and engaging tweet (max 280 characters) about the following topic. " +
			"Include relevant hashtags and a call to action if appropriate.\nTopic: %s",
		StyleThreadStarter: "Generate the first tweet of a Twitter thread (max 280 characters) about the following topic. " +
			"Make it hook the reader and indicate it's part of a thread.\nTopic: %s",
	},
	policy.LinkedIn: {
		StyleProfessionalPost: "Draft a professional and insightful LinkedIn post (max 1300 characters) about the following topic. " +
			"Focus on industry trends, career development, or business insights. " +
			"Include a question to encourage engagement.\nTopic: %s",
		StyleThoughtLeadership: "Write a thought-provoking LinkedIn post (max 1300 characters) that positions the author as a leader " +
			"in the field. Discuss a challenge or opportunity related to the topic and offer a unique perspective.\nTopic: %s",
	},
	policy.Instagram: {
		StyleEngagingCaption: "Create an engaging Instagram caption (max 2200 characters, but aim for conciseness) for a visual post " +
			"about the following topic. Use emojis, relevant hashtags, and a clear call to action or question. " +
			"Focus on visual storytelling.\nTopic: %s",
		StyleStoryText: "Generate short, punchy text for an Instagram Story slide about the following topic. " +
			"Keep it very brief and attention-grabbing.\nTopic: %s",
	},
}

// defaultStyles picks a style per platform when the caller does not
var defaultStyles = map[policy.Platform]string{
	policy.Twitter:   StyleShortPost,
	policy.LinkedIn:  StyleProfessionalPost,
	policy.Instagram: StyleEngagingCaption,
}

// BuildPrompt renders the prompt for a platform, style, and topic. Extra
// talking points, when given, are appended as constraints on the draft.
func BuildPrompt(platform policy.Platform, style, topic string, points []string) (string, error) {
	styles, ok := promptTemplates[platform]
	if !ok {
		return "", errors.Wrapf(errors.ErrUnknownPlatform, "%q", platform)
	}

	if style == "" {
		style = defaultStyles[platform]
	}
	template, ok := styles[style]
	if !ok {
		return "", errors.Newf("style %q not supported for platform %s (available: %s)",
			style, platform, strings.Join(stylesFor(platform), ", "))
	}

	prompt := fmt.Sprintf(template, topic)
	if len(points) > 0 {
		prompt += "\nMake sure the post covers these points:\n- " + strings.Join(points, "\n- ")
	}
	return prompt, nil
}

// stylesFor returns the style names available for a platform, sorted
func stylesFor(platform policy.Platform) []string {
	styles := promptTemplates[platform]
	out := make([]string, 0, len(styles))
	for name := range styles {
		out = append(out, name)
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j] < out[i] {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}
