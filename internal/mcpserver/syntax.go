package mcpserver

// QuerySyntax documents the search language accepted by search_index.
const QuerySyntax = `# Beetle Query Syntax

Queries match whole tokens in file paths and file contents. Path matches
weigh more than content matches.

| Form              | Meaning                                        |
|-------------------|------------------------------------------------|
| ` + "`word`" + `            | files containing the token                     |
| ` + "`pre*`" + `            | tokens starting with "pre"                     |
| ` + "`\"two words\"`" + `     | the tokens next to each other, in order        |
| ` + "`a b`" + `, ` + "`a AND b`" + ` | both terms                                     |
| ` + "`a OR b`" + `          | either term                                    |
| ` + "`a NOT b`" + `         | a, excluding files that contain b              |
| ` + "`path:word`" + `       | the token in the file path only                |
| ` + "`content:word`" + `    | the token in the file content only             |

Operators must be uppercase; lowercase and/or/not are ordinary words.
Punctuation inside a term is treated as a separator, so ` + "`fmt.Println`" + `
matches the tokens fmt and println next to each other.

Results are ranked by BM25, best first, ties broken by path. Each hit
carries a snippet with matched terms wrapped in <b></b>.

Results reflect the last completed update. Run update_index after the
repository changes.
`
