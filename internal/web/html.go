package web

import "github.com/basket/taskbuddy/internal/task"

type indexData struct {
	Tasks []task.Task
	Total int
	Open  int
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>TaskBuddy</title>
<style>
body { font-family: sans-serif; max-width: 40rem; margin: 2rem auto; }
li { margin: 0.4rem 0; }
li.done span { text-decoration: line-through; color: #888; }
form.inline { display: inline; margin-left: 0.5rem; }
</style>
</head>
<body>
<h1>TaskBuddy</h1>
<p>{{.Total}} tasks, {{.Open}} open</p>
<form method="post" action="/add">
<input type="text" name="task" placeholder="New task" autofocus>
<button type="submit">Add</button>
</form>
{{if .Tasks}}
<ol start="0">
{{range $i, $t := .Tasks}}
<li{{if $t.Done}} class="done"{{end}}>
<span>{{$t.Title}}</span>
<form class="inline" method="post" action="/toggle/{{$i}}"><button type="submit">{{if $t.Done}}Reopen{{else}}Done{{end}}</button></form>
<form class="inline" method="post" action="/delete/{{$i}}"><button type="submit">Delete</button></form>
</li>
{{end}}
</ol>
{{else}}
<p>Your task list is empty.</p>
{{end}}
</body>
</html>
`
