// Package fallback answers messages locally when the completion backend
// cannot be reached. Answers are canned and selected by keyword.
package fallback

import "strings"

// Rule maps a set of keywords to a canned answer. A rule matches when the
// lower-cased message contains any of its keywords.
type Rule struct {
	Name     string
	Keywords []string
	Answer   string
}

func (r Rule) matches(lower string) bool {
	for _, kw := range r.Keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Rules returns the built-in rules in precedence order.
func Rules() []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules)
	return out
}

// Respond returns the first matching rule's answer for message, or the
// capability description when no rule matches. It never fails.
func Respond(message string) string {
	answer, _ := Match(message)
	return answer
}

// Match is Respond that also reports which rule produced the answer.
// The rule name is "default" when nothing matched.
func Match(message string) (answer, rule string) {
	lower := strings.ToLower(message)
	for _, r := range rules {
		if r.matches(lower) {
			return r.Answer, r.Name
		}
	}
	return defaultAnswer, "default"
}

const defaultAnswer = "I'm your AI code assistant. I can help you with coding problems, provide code examples, and explain programming concepts. What would you like to know more about?"

var rules = []Rule{
	{
		Name:     "debugging",
		Keywords: []string{"error", "bug", "fix"},
		Answer: "To debug your code effectively:\n\n" +
			"1. Check for syntax errors\n" +
			"2. Use console.log() to trace values\n" +
			"3. Try using a debugger to step through your code\n" +
			"4. Look for common issues like undefined variables\n\n" +
			"Could you share the specific error you're seeing?",
	},
	{
		Name:     "function",
		Keywords: []string{"function", "method"},
		Answer: "```javascript\n" +
			"// Basic function syntax\n" +
			"function functionName(param1, param2) {\n" +
			"  // function body\n" +
			"  return result;\n" +
			"}\n\n" +
			"// Arrow function syntax\n" +
			"const functionName = (param1, param2) => {\n" +
			"  // function body\n" +
			"  return result;\n" +
			"};\n" +
			"```",
	},
	{
		Name:     "iteration",
		Keywords: []string{"array", "loop"},
		Answer: "```javascript\n" +
			"// Working with arrays\n" +
			"const myArray = [1, 2, 3, 4];\n\n" +
			"// Looping through an array\n" +
			"for (let i = 0; i < myArray.length; i++) {\n" +
			"  console.log(myArray[i]);\n" +
			"}\n\n" +
			"// Modern ways to loop\n" +
			"myArray.forEach(item => console.log(item));\n\n" +
			"// Map, filter, reduce\n" +
			"const doubled = myArray.map(item => item * 2);\n" +
			"const evens = myArray.filter(item => item % 2 === 0);\n" +
			"const sum = myArray.reduce((total, item) => total + item, 0);\n" +
			"```",
	},
	{
		Name:     "network",
		Keywords: []string{"api", "fetch", "ajax"},
		Answer: "```javascript\n" +
			"// Fetching data from an API\n" +
			"async function fetchData(url) {\n" +
			"  try {\n" +
			"    const response = await fetch(url);\n" +
			"    \n" +
			"    if (!response.ok) {\n" +
			"      throw new Error(`HTTP error! Status: ${response.status}`);\n" +
			"    }\n" +
			"    \n" +
			"    const data = await response.json();\n" +
			"    return data;\n" +
			"  } catch (error) {\n" +
			"    console.error('Fetch error:', error);\n" +
			"  }\n" +
			"}\n\n" +
			"// Usage\n" +
			"fetchData('https://api.example.com/data')\n" +
			"  .then(data => console.log(data))\n" +
			"  .catch(error => console.error(error));\n" +
			"```",
	},
}
