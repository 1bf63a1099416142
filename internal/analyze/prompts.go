package analyze

// Vision and text prompts. These mirror the prompt set the models were
// tuned against in production; changing wording changes tag quality.

const promptImageDescription = `Analyze this image and provide a detailed description. Include:
1. Main subjects and objects visible
2. Setting/location (indoor/outdoor, type of place)
3. Colors, lighting, and mood
4. Activities or actions taking place
5. Any notable details or interesting elements

Keep the description concise but informative (max 300 words).`

const promptVideoDescription = `This is a frame from a video. Describe what's happening in this video based on this frame. Include:
1. The main scene or setting
2. Any people, objects, or activities visible
3. The likely context or purpose of the video
4. Visual style or quality

Keep it concise (max 200 words).`

const promptImageTags = `Look at this image and generate relevant tags/keywords that describe it. Focus on:
- Objects and subjects
- Activities
- Setting/location type
- Style or mood
- Colors (only if distinctive)

Provide 5-15 single-word tags separated by commas. Be specific and accurate.`

const promptImageObjects = `List the main objects visible in this image. Focus on:
- People (person, child, adult, etc.)
- Animals
- Vehicles
- Buildings/structures
- Nature elements
- Common objects

Provide a comma-separated list of objects. Be specific but not overly detailed.`

const promptSceneType = `Classify the scene in this image. Choose the most appropriate category:
- indoor/outdoor
- nature/urban/suburban
- home/office/public/commercial
- event/casual/formal

Provide just the main scene type in 1-3 words.`

const promptOCR = `Look for any text visible in this image (signs, labels, documents, etc.).
If you see any readable text, transcribe it exactly. If no text is visible, respond with 'no text found'.`

const promptDocumentSummary = `Summarize the following document content in 2-3 sentences. Focus on the main topics and key information:

%s

Summary:`

const promptDocumentTags = `Extract 5-10 key topics/tags from this document content. Focus on main subjects, themes, and important concepts:

%s

Key topics (comma-separated):`

const promptDocumentFromFilename = `A document is named %q. Based only on the filename, describe in one or two sentences what it likely contains.`

const promptVideoFromFilename = `A video file is named %q. Based only on the filename, describe in one or two sentences what it likely shows.`
